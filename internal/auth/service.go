// Package auth manages spectator accounts and bearer session tokens for the
// HTTP API and the websocket feed.
package auth

// Service is the auth/session contract consumed by the gateway and the HTTP
// handlers.
type Service interface {
	// EnsureAccount creates username or resets its password.
	EnsureAccount(username, password string) (accountID uint64, err error)
	Register(username, password string) (accountID uint64, sessionToken string, err error)
	Login(username, password string) (accountID uint64, sessionToken string, err error)
	ResolveSession(token string) (accountID uint64, username string, ok bool)
	Logout(token string)
	Close() error
}
