package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/models"
	"github.com/punchamoorthee/commonledger/internal/service"
	"github.com/punchamoorthee/commonledger/internal/store"
)

type Handler struct {
	exchanges   *service.ExchangeService
	memberships *service.MembershipService
	groups      *service.GroupService
	log         *slog.Logger
}

func NewHandler(exchanges *service.ExchangeService, memberships *service.MembershipService, groups *service.GroupService, log *slog.Logger) *Handler {
	return &Handler{exchanges: exchanges, memberships: memberships, groups: groups, log: log}
}

// NewRouter wires every route of the ledger API.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument(h.log))
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/exchanges", h.CreateExchangeHandler).Methods("POST")
	v1.HandleFunc("/exchanges/{id:[0-9]+}", h.GetExchangeHandler).Methods("GET")
	v1.HandleFunc("/exchanges/{id:[0-9]+}", h.DestroyExchangeHandler).Methods("DELETE")
	v1.HandleFunc("/accounts/{id:[0-9]+}/entries", h.GetAccountEntriesHandler).Methods("GET")
	v1.HandleFunc("/groups/{gid:[0-9]+}/accounts/{pid:[0-9]+}", h.GetAccountHandler).Methods("GET")
	v1.HandleFunc("/groups/{gid:[0-9]+}/accounts/{pid:[0-9]+}/reserve", h.UpdateReserveHandler).Methods("PUT")
	v1.HandleFunc("/groups/{gid:[0-9]+}/credit-limit", h.UpdateCreditLimitHandler).Methods("PUT")
	v1.HandleFunc("/groups/{gid:[0-9]+}/memberships", h.CreateMembershipHandler).Methods("POST")
	v1.HandleFunc("/groups/{gid:[0-9]+}/memberships/{pid:[0-9]+}/accept", h.AcceptMembershipHandler).Methods("POST")
	v1.HandleFunc("/groups/{gid:[0-9]+}/memberships/{pid:[0-9]+}/roles", h.UpdateRolesHandler).Methods("PUT")
	v1.HandleFunc("/groups/{gid:[0-9]+}/memberships/{pid:[0-9]+}", h.BreakupHandler).Methods("DELETE")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateExchangeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	// 1. Validate Header
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	// 2. Read and Hash Body
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	hash := sha256.Sum256(bodyBytes)
	reqHash := hex.EncodeToString(hash[:])

	var req models.ExchangeRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	// 3. Call Service
	out, err := h.exchanges.Create(r.Context(), caller, req, idempotencyKey, reqHash)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	// Handle Idempotent Replay
	if out.Replayed != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(out.Replayed.ResponseStatus)
		w.Write(out.Replayed.ResponseBody)
		return
	}

	// Fee failures are not the payer's concern; the service has logged them.
	w.Header().Set("Location", fmt.Sprintf("/api/v1/exchanges/%d", out.Exchange.ID))
	respondWithJSON(w, http.StatusCreated, models.ExchangeResponse{Exchange: *out.Exchange, Entries: out.Entries})
}

func (h *Handler) GetExchangeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	x, entries, err := h.exchanges.Get(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ExchangeResponse{Exchange: *x, Entries: entries})
}

func (h *Handler) DestroyExchangeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := h.exchanges.Destroy(r.Context(), caller, id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ExchangeResponse{Exchange: *out.Exchange, Entries: out.Entries})
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	personID, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	account, err := h.groups.Account(r.Context(), personID, groupID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.groups.Entries(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) UpdateReserveHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	personID, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	var req models.ReserveRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.groups.UpdateReserve(r.Context(), caller.PersonID, groupID, personID, req.Reserve, req.ReservePercent)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) UpdateCreditLimitHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	var req models.CreditLimitRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.groups.UpdateDefaultCreditLimit(r.Context(), caller.PersonID, groupID, req.DefaultCreditLimit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.CreditLimitResponse{GroupID: groupID, AccountsUpdated: n})
}

// CreateMembershipHandler requests membership for the caller, or invites
// person_id when it names someone else.
func (h *Handler) CreateMembershipHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	var req models.MembershipRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		m   *domain.Membership
		err error
	)
	if req.PersonID == 0 || req.PersonID == caller.PersonID {
		m, err = h.memberships.Request(r.Context(), caller.PersonID, groupID)
	} else {
		m, err = h.memberships.Invite(r.Context(), caller.PersonID, req.PersonID, groupID)
	}
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, m)
}

func (h *Handler) AcceptMembershipHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	personID, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	m, err := h.memberships.Accept(r.Context(), caller.PersonID, personID, groupID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) UpdateRolesHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	personID, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	var req models.RolesRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.memberships.SetRoles(r.Context(), caller.PersonID, personID, groupID, req.Roles)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) BreakupHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "gid")
	if !ok {
		return
	}
	personID, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	if err := h.memberships.Breakup(r.Context(), caller.PersonID, personID, groupID); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// callerFrom reads the acting person. Authentication happens upstream; the
// ledger only needs the verified id.
func callerFrom(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	personID, err := strconv.ParseInt(r.Header.Get("X-Person-ID"), 10, 64)
	if err != nil || personID <= 0 {
		respondWithError(w, http.StatusUnauthorized, "Missing or invalid X-Person-ID header")
		return service.Caller{}, false
	}
	caller := service.Caller{PersonID: personID}
	if v := r.Header.Get("X-Capability-ID"); v != "" {
		capID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || capID <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid X-Capability-ID header")
			return service.Caller{}, false
		}
		caller.CapabilityID = capID
	}
	return caller, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}

// respondWithServiceError maps the error taxonomy onto status codes.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{Error: "Validation failed", Details: ve.Errors})
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrIdempotencyMismatch):
		respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
	case errors.Is(err, domain.ErrUnknownRole):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrGroupClosed):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, service.ErrIdempotencyConflict):
		respondWithError(w, http.StatusConflict, "Request processing in progress")
	case errors.Is(err, domain.ErrTransactionAborted):
		respondWithError(w, http.StatusConflict, "Transaction aborted, retry")
	case errors.Is(err, domain.ErrMembershipExists), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
