// Package httpapi exposes the raffle over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/raffle/internal/app"
	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/internal/ledger"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const defaultListLimit = 50

// Options tune the handler. A zero RateLimit disables rate limiting.
type Options struct {
	RateLimit float64
	RateBurst int
	Logger    *logger.Logger
}

// handler bundles HTTP endpoints for the application.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the raffle API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/raffle", h.raffleState).Methods(http.MethodGet)
	r.HandleFunc("/raffle/enter", h.enter).Methods(http.MethodPost)
	r.HandleFunc("/raffle/participants/{index}", h.participant).Methods(http.MethodGet)
	r.HandleFunc("/raffle/upkeep", h.checkUpkeep).Methods(http.MethodGet)
	r.HandleFunc("/raffle/upkeep", h.performUpkeep).Methods(http.MethodPost)
	r.HandleFunc("/raffle/draws", h.draws).Methods(http.MethodGet)
	r.HandleFunc("/raffle/entries", h.entries).Methods(http.MethodGet)

	r.HandleFunc("/ledger/accounts/{id}", h.account).Methods(http.MethodGet)
	r.HandleFunc("/ledger/accounts/{id}/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/ledger/accounts/{id}/transactions", h.transactions).Methods(http.MethodGet)

	r.HandleFunc("/vrf/requests/{id}/fulfill", h.fulfill).Methods(http.MethodPost)

	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	r.Handle("/events/stream", newStream(application.Events, log.Named("event-stream"))).Methods(http.MethodGet)

	if opts.RateLimit > 0 {
		r.Use(newRateLimiter(opts.RateLimit, opts.RateBurst, log).Handler)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type raffleResponse struct {
	raffle.Snapshot
	StateName   string            `json:"state_name"`
	Address     string            `json:"address"`
	ChainID     int64             `json:"chain_id"`
	Network     string            `json:"network"`
	Development bool              `json:"development"`
	Keeper      *automationStatus `json:"keeper,omitempty"`
}

type automationStatus struct {
	Checks   uint64 `json:"checks"`
	Performs uint64 `json:"performs"`
	Skips    uint64 `json:"skips"`
	Failures uint64 `json:"failures"`
}

func (h *handler) raffleState(w http.ResponseWriter, r *http.Request) {
	snap := h.app.Raffle.Snapshot()
	resp := raffleResponse{
		Snapshot:    snap,
		StateName:   snap.State.String(),
		Address:     h.app.Raffle.Address(),
		ChainID:     h.app.Deployment.ChainID,
		Network:     h.app.Deployment.Network.Name,
		Development: h.app.Deployment.Development,
	}
	if stats, ok := h.app.KeeperStats(); ok {
		resp.Keeper = &automationStatus{
			Checks:   stats.Checks,
			Performs: stats.Performs,
			Skips:    stats.Skips,
			Failures: stats.Failures,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) enter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Participant string `json:"participant"`
		Amount      int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Participant == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("participant is required"))
		return
	}

	if err := h.app.Enter(r.Context(), payload.Participant, payload.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"participant":      payload.Participant,
		"amount":           payload.Amount,
		"num_participants": h.app.Raffle.NumParticipants(),
	})
}

func (h *handler) participant(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index: %w", err))
		return
	}
	participant, err := h.app.Raffle.Participant(index)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "participant": participant})
}

func (h *handler) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	needed, performData := h.app.Raffle.CheckUpkeep(r.Context(), nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"upkeep_needed": needed,
		"perform_data":  performData,
	})
}

func (h *handler) performUpkeep(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Raffle.PerformUpkeep(r.Context(), nil); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": h.app.Raffle.PendingRequestID(),
		"state":      h.app.Raffle.State(),
	})
}

func (h *handler) draws(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	draws, err := h.app.Store.ListDraws(r.Context(), h.app.Raffle.ID(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, draws)
}

func (h *handler) entries(w http.ResponseWriter, r *http.Request) {
	round, err := queryInt(r, "round", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := h.app.Store.ListEntries(r.Context(), h.app.Raffle.ID(), int64(round))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Ledger.Account(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.app.Deposit(r.Context(), id, payload.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	acct, err := h.app.Ledger.Account(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txs, err := h.app.Ledger.Transactions(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request id: %w", err))
		return
	}
	if err := h.app.FulfillRequest(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":    id,
		"recent_winner": h.app.Raffle.RecentWinner(),
		"state":         h.app.Raffle.State(),
	})
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, raffle.ErrInsufficientPayment),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, raffle.ErrNotOpen),
		errors.Is(err, raffle.ErrUpkeepNotNeeded),
		errors.Is(err, ledger.ErrAccountBlocked):
		return http.StatusConflict
	case errors.Is(err, raffle.ErrUnknownRequest),
		errors.Is(err, raffle.ErrIndexOutOfRange),
		errors.Is(err, vrf.ErrNonexistentRequest),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, raffle.ErrPayoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrBalanceOverflow),
		errors.Is(err, raffle.ErrBalanceOverflow):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotDevelopment):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
