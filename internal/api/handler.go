// Package api exposes the wagering engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/officebet/pool-engine/internal/model"
	"github.com/officebet/pool-engine/internal/wagering"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	engine  *wagering.Engine
	limiter *RateLimiter
}

// NewHandler creates a Handler. A nil limiter disables rate limiting.
func NewHandler(engine *wagering.Engine, limiter *RateLimiter) *Handler {
	return &Handler{engine: engine, limiter: limiter}
}

// Routes mounts every endpoint on r. Mutating routes are rate limited.
func (h *Handler) Routes(r chi.Router) {
	throttle := func(next http.Handler) http.Handler { return next }
	if h.limiter != nil {
		throttle = h.limiter.Middleware
	}

	r.With(throttle).Post("/accounts", h.Register)
	r.Get("/leaderboard", h.Leaderboard)
	r.Get("/bets", h.ListBets)
	r.Get("/bets/{betID}", h.GetBet)

	r.Group(func(r chi.Router) {
		r.Use(RequireAccount)

		r.Get("/accounts/me", h.Me)
		r.Get("/accounts/me/wagers", h.MyWagers)
		r.Get("/accounts/me/movements", h.MyMovements)

		r.With(throttle).Post("/bets", h.CreateBet)
		r.With(throttle).Post("/bets/{betID}/wagers", h.PlaceWager)
		r.With(throttle).Post("/bets/{betID}/resolve", h.Resolve)
	})
}

// RegisterRequest is the body of POST /accounts.
type RegisterRequest struct {
	Username string `json:"username"`
}

// WagerRequest is the body of POST /bets/{betID}/wagers.
type WagerRequest struct {
	OutcomeID string `json:"outcome_id"`
	Amount    int64  `json:"amount"`
}

// ResolveRequest is the body of POST /bets/{betID}/resolve.
type ResolveRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
}

// Register handles POST /api/v1/accounts.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.engine.OpenAccount(r.Context(), req.Username)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// Me handles GET /api/v1/accounts/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acct, err := h.engine.Account(r.Context(), AccountID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// MyWagers handles GET /api/v1/accounts/me/wagers.
func (h *Handler) MyWagers(w http.ResponseWriter, r *http.Request) {
	wagers, err := h.engine.AccountWagers(r.Context(), AccountID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wagers)
}

// MyMovements handles GET /api/v1/accounts/me/movements.
func (h *Handler) MyMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.engine.Movements(r.Context(), AccountID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

// ListBets handles GET /api/v1/bets?status=.
func (h *Handler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.engine.ListBets(r.Context(), model.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetBet handles GET /api/v1/bets/{betID}.
func (h *Handler) GetBet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.BetDetail(r.Context(), chi.URLParam(r, "betID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateBet handles POST /api/v1/bets.
func (h *Handler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var draft wagering.BetDraft
	if !decode(w, r, &draft) {
		return
	}
	ctx := r.Context()
	bet, err := h.engine.CreateBet(ctx, AccountID(ctx), draft)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	detail, err := h.engine.BetDetail(ctx, bet.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// PlaceWager handles POST /api/v1/bets/{betID}/wagers.
func (h *Handler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req WagerRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	wager, err := h.engine.PlaceWager(ctx, AccountID(ctx), chi.URLParam(r, "betID"), req.OutcomeID, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wager)
}

// Resolve handles POST /api/v1/bets/{betID}/resolve. A repeated request gets
// 409 with the recorded winning outcome.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	betID := chi.URLParam(r, "betID")
	bet, err := h.engine.Resolve(ctx, betID, AccountID(ctx), req.WinningOutcomeID)
	if errors.Is(err, wagering.ErrAlreadyResolved) && bet != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":              err.Error(),
			"code":               wagering.Kind(err),
			"winning_outcome_id": bet.WinningOutcomeID,
		})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	detail, err := h.engine.BetDetail(ctx, betID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Leaderboard handles GET /api/v1/leaderboard?limit=.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, "limit must be an integer", wagering.Kind(wagering.ErrValidation), http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "bet_not_found", "outcome_not_found", "account_not_found":
		return http.StatusNotFound
	case "not_creator":
		return http.StatusForbidden
	case "bet_not_open", "already_resolved", "conflict":
		return http.StatusConflict
	case "invalid_amount", "insufficient_balance", "validation":
		return http.StatusBadRequest
	case "busy":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	kind := wagering.Kind(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, kind, status)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", wagering.Kind(wagering.ErrValidation), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
