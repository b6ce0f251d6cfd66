package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// HTTPHandler serves the account API used by the operator and, when
// registration is open, by spectators signing up for the live feed.
type HTTPHandler struct {
	accounts         Service
	openRegistration bool
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccountID    uint64 `json:"account_id"`
	Username     string `json:"username"`
	SessionToken string `json:"session_token,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var errMissingToken = errors.New("missing session token")

// NewHTTPHandler serves accounts from svc. openRegistration mounts the
// sign-up route; without it the route answers 403.
func NewHTTPHandler(svc Service, openRegistration bool) *HTTPHandler {
	return &HTTPHandler{accounts: svc, openRegistration: openRegistration}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.HandleFunc("POST /api/auth/logout", h.logout)
	mux.HandleFunc("GET /api/auth/me", h.me)
	if h.openRegistration {
		mux.HandleFunc("POST /api/auth/register", h.register)
	} else {
		mux.HandleFunc("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusForbidden, ErrRegistrationClosed.Error())
		})
	}
}

func (h *HTTPHandler) login(w http.ResponseWriter, r *http.Request) {
	c, ok := readCredentials(w, r)
	if !ok {
		return
	}
	id, token, err := h.accounts.Login(c.Username, c.Password)
	if err != nil {
		writeError(w, statusOf(err), messageOf(err, "login failed"))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccountID: id, Username: c.Username, SessionToken: token})
}

func (h *HTTPHandler) register(w http.ResponseWriter, r *http.Request) {
	c, ok := readCredentials(w, r)
	if !ok {
		return
	}
	id, token, err := h.accounts.Register(c.Username, c.Password)
	if err != nil {
		writeError(w, statusOf(err), messageOf(err, "register failed"))
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{AccountID: id, Username: c.Username, SessionToken: token})
}

func (h *HTTPHandler) logout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, errMissingToken.Error())
		return
	}
	h.accounts.Logout(token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) me(w http.ResponseWriter, r *http.Request) {
	id, username, err := h.resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccountID: id, Username: username})
}

func (h *HTTPHandler) resolve(r *http.Request) (uint64, string, error) {
	token := BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return 0, "", errMissingToken
	}
	id, username, ok := h.accounts.ResolveSession(token)
	if !ok {
		return 0, "", errors.New("invalid session token")
	}
	return id, username, nil
}

// readCredentials decodes the body or writes a 400 and reports false.
func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return credentials{}, false
	}
	return c, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrInvalidPassword):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRegistrationClosed):
		return http.StatusForbidden
	case errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageOf hides internal errors behind fallback.
func messageOf(err error, fallback string) string {
	if statusOf(err) == http.StatusInternalServerError {
		return fallback
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return "invalid username or password"
	}
	return err.Error()
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(raw string) string {
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
