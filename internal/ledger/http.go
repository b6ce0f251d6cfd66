package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"secrethitler-lite/internal/auth"
	"secrethitler-lite/internal/timeouts"
	"secrethitler-lite/transcript"
)

type HTTPHandler struct {
	auth   auth.Service
	ledger Service
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(authService auth.Service, ledgerService Service) *HTTPHandler {
	return &HTTPHandler{auth: authService, ledger: ledgerService}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games/recent", h.handleRecent)
	mux.HandleFunc("/api/games/", h.handleGame)
}

func (h *HTTPHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.LedgerQuery)
	defer cancel()
	items, err := h.ledger.ListRecent(ctx, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query recent games failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleGame serves /api/games/{id}/records. With ?decode=true each record
// is returned decoded next to its envelope.
func (h *HTTPHandler) handleGame(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/games/"), "/"), "/")
	if len(parts) != 2 || parts[1] != "records" || strings.TrimSpace(parts[0]) == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	gameID := strings.TrimSpace(parts[0])

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.LedgerQuery)
	defer cancel()
	items, err := h.ledger.GetGameRecords(ctx, gameID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "query game records failed")
		return
	}

	resp := map[string]any{"game_id": gameID, "records": items}
	if decode, _ := strconv.ParseBool(r.URL.Query().Get("decode")); decode {
		decoded := make([]transcript.Record, 0, len(items))
		for _, it := range items {
			rec, err := it.Record()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "decode record failed")
				return
			}
			decoded = append(decoded, rec)
		}
		resp["decoded"] = decoded
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) authorized(r *http.Request) bool {
	if h.auth == nil {
		return false
	}
	_, _, ok := h.auth.ResolveSession(auth.BearerToken(r.Header.Get("Authorization")))
	return ok
}

func parseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 20
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
