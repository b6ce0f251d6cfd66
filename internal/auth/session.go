package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultSessionTTL = 24 * time.Hour
	tokenBytes        = 32
)

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRegistrationClosed = errors.New("registration closed")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{2,31}$`)

// Options configures a Manager.
type Options struct {
	SessionTTL time.Duration
	// OpenRegistration lets anyone create a spectator account. When false
	// only accounts seeded with EnsureAccount can log in.
	OpenRegistration bool
}

// Manager keeps accounts and sessions in memory for the lifetime of the
// process.
type Manager struct {
	mu sync.Mutex

	nextAccountID uint64
	sessionTTL    time.Duration
	openRegister  bool
	now           func() time.Time
	sessions      map[string]sessionRecord // token -> account
	accountsByID  map[uint64]accountRecord
	accountsByKey map[string]uint64 // normalized username -> account
}

type sessionRecord struct {
	AccountID uint64
	ExpiresAt time.Time
}

type accountRecord struct {
	AccountID     uint64
	Username      string
	PasswordHash  []byte
	LastLoginTime time.Time
}

func NewManager(opts Options) *Manager {
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Manager{
		nextAccountID: 1000,
		sessionTTL:    ttl,
		openRegister:  opts.OpenRegistration,
		now:           time.Now,
		sessions:      make(map[string]sessionRecord),
		accountsByID:  make(map[uint64]accountRecord),
		accountsByKey: make(map[string]uint64),
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func validatePassword(password string) error {
	// bcrypt ignores bytes past 72.
	if len(password) < 6 || len(password) > 72 {
		return ErrInvalidPassword
	}
	return nil
}

func (m *Manager) issueSessionLocked(accountID uint64, now time.Time) string {
	token := mustToken()
	m.sessions[token] = sessionRecord{
		AccountID: accountID,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	return token
}

func (m *Manager) resolveSessionLocked(token string, now time.Time) (accountID uint64, username string, ok bool) {
	if token == "" {
		return 0, "", false
	}
	rec, exists := m.sessions[token]
	if !exists {
		return 0, "", false
	}
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return 0, "", false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec
	return rec.AccountID, m.accountsByID[rec.AccountID].Username, true
}

func (m *Manager) createLocked(normalized string, hash []byte) uint64 {
	m.nextAccountID++
	id := m.nextAccountID
	m.accountsByID[id] = accountRecord{AccountID: id, Username: normalized, PasswordHash: hash}
	m.accountsByKey[normalized] = id
	return id
}

// EnsureAccount creates username with password, or resets the password of an
// existing account. Used to seed the operator account from configuration.
func (m *Manager) EnsureAccount(username, password string) (uint64, error) {
	if err := validateUsername(username); err != nil {
		return 0, err
	}
	if err := validatePassword(password); err != nil {
		return 0, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	normalized := normalizeUsername(username)

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, exists := m.accountsByKey[normalized]; exists {
		rec := m.accountsByID[id]
		rec.PasswordHash = hash
		m.accountsByID[id] = rec
		return id, nil
	}
	return m.createLocked(normalized, hash), nil
}

// Register creates a new account and returns an authenticated session token.
func (m *Manager) Register(username, password string) (accountID uint64, sessionToken string, err error) {
	if !m.openRegister {
		return 0, "", ErrRegistrationClosed
	}
	if err = validateUsername(username); err != nil {
		return 0, "", err
	}
	if err = validatePassword(password); err != nil {
		return 0, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, "", err
	}
	normalized := normalizeUsername(username)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accountsByKey[normalized]; exists {
		return 0, "", ErrUsernameTaken
	}
	accountID = m.createLocked(normalized, hash)
	now := m.now()
	rec := m.accountsByID[accountID]
	rec.LastLoginTime = now
	m.accountsByID[accountID] = rec
	return accountID, m.issueSessionLocked(accountID, now), nil
}

// Login validates credentials and returns a fresh session.
func (m *Manager) Login(username, password string) (accountID uint64, sessionToken string, err error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return 0, "", ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accountID, exists := m.accountsByKey[normalized]
	if !exists {
		return 0, "", ErrInvalidCredentials
	}
	rec := m.accountsByID[accountID]
	if len(rec.PasswordHash) == 0 || bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)) != nil {
		return 0, "", ErrInvalidCredentials
	}
	now := m.now()
	rec.LastLoginTime = now
	m.accountsByID[accountID] = rec
	return accountID, m.issueSessionLocked(accountID, now), nil
}

// ResolveSession validates and refreshes a session token.
func (m *Manager) ResolveSession(token string) (accountID uint64, username string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveSessionLocked(token, m.now())
}

// Logout invalidates a session token.
func (m *Manager) Logout(token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

func (m *Manager) Close() error { return nil }

func mustToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
