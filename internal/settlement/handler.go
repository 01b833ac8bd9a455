package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetpact/fleetpact/internal/observability"
	"github.com/fleetpact/fleetpact/internal/shared"
)

const dateLayout = "2006-01-02"

// IdempotencyStore guards create and submit retries against duplication.
// Satisfied by shared.IdempotencyStore.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the settlement engine over JSON endpoints. The acting party
// travels in the X-Party-ID header; the engine never resolves an ambient
// identity on its own.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	idem      IdempotencyStore
	metrics   *observability.EngineMetrics
}

// NewHandler builds the handler. Idempotency store and metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyStore, metrics *observability.EngineMetrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		idem:      idem,
		metrics:   metrics,
	}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/preview", h.preview)
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/summary", h.summary)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/payments", h.submitPayment)
	r.Post("/payments/{paymentID}/approve", h.approvePayment)
	r.Post("/payments/{paymentID}/reject", h.rejectPayment)
	r.Post("/payments/{paymentID}/cancel", h.cancelPayment)
}

type previewRequest struct {
	PartyA      int64  `json:"party_a" validate:"required"`
	PartyB      int64  `json:"party_b" validate:"required"`
	PeriodStart string `json:"period_start" validate:"required"`
	PeriodEnd   string `json:"period_end" validate:"required"`
}

type createRequest struct {
	previewRequest
	Notes string `json:"notes"`
}

type submitPaymentRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PaidBy      int64   `json:"paid_by" validate:"required"`
	PaidTo      int64   `json:"paid_to" validate:"required"`
	Method      string  `json:"method" validate:"required"`
	SubmittedOn string  `json:"submitted_on"`
	Notes       string  `json:"notes"`
	Reference   string  `json:"reference"`
}

type rejectPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	start, end, ok := h.decodePeriodRequest(w, r, &req, &req)
	if !ok {
		return
	}
	result, err := h.service.Preview(r.Context(), req.PartyA, req.PartyB, start, end)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	var req createRequest
	start, end, ok := h.decodePeriodRequest(w, r, &req, &req.previewRequest)
	if !ok {
		return
	}
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "settlement.create"); err != nil {
			h.respondError(w, err)
			return
		}
	}

	result, err := h.service.Preview(r.Context(), req.PartyA, req.PartyB, start, end)
	if err != nil {
		h.releaseIdemKey(r.Context(), idemKey)
		h.respondError(w, err)
		return
	}
	created, err := h.service.Materialize(r.Context(), MaterializeInput{
		Result:    result,
		Notes:     req.Notes,
		CreatedBy: actor,
	})
	if err != nil {
		h.releaseIdemKey(r.Context(), idemKey)
		h.respondError(w, err)
		return
	}
	h.metrics.SettlementCreated()
	h.respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset := shared.ParseLimitOffset(r.URL.Query(), 50, 200)
	party, _ := strconv.ParseInt(r.URL.Query().Get("party"), 10, 64)

	settlements, err := h.service.List(r.Context(), ListRequest{Party: party, Limit: limit, Offset: offset})
	if err != nil {
		h.respondError(w, err)
		return
	}
	// Derived, never stored: attach status per settlement on the way out.
	// The ledger feeds the derivation; the listing itself stays header-shaped.
	type listItem struct {
		Settlement
		Status Status `json:"status"`
	}
	items := make([]listItem, len(settlements))
	for i := range settlements {
		items[i] = listItem{Settlement: settlements[i], Status: settlements[i].DeriveStatus()}
		items[i].Payments = nil
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"settlements": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	settlement, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"settlement":    settlement,
		"status":        settlement.DeriveStatus(),
		"remaining_due": settlement.RemainingDue(),
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), id, actor); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitPaymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	var submittedOn time.Time
	if req.SubmittedOn != "" {
		var err error
		submittedOn, err = time.Parse(dateLayout, req.SubmittedOn)
		if err != nil {
			h.respondValidationError(w, "submitted_on must be YYYY-MM-DD")
			return
		}
	}
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "settlement.payment"); err != nil {
			h.respondError(w, err)
			return
		}
	}

	payment, err := h.service.SubmitPayment(r.Context(), SubmitPaymentInput{
		SettlementID: id,
		Amount:       req.Amount,
		PaidBy:       req.PaidBy,
		PaidTo:       req.PaidTo,
		Method:       PaymentMethod(req.Method),
		SubmittedOn:  submittedOn,
		Notes:        req.Notes,
		Reference:    req.Reference,
		Actor:        actor,
	})
	if err != nil {
		h.releaseIdemKey(r.Context(), idemKey)
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, payment)
}

func (h *Handler) approvePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	if err := h.service.ApprovePayment(r.Context(), id, actor); err != nil {
		h.respondError(w, err)
		return
	}
	h.metrics.PaymentDecided("approved")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rejectPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	var req rejectPaymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.RejectPayment(r.Context(), id, req.Reason, actor); err != nil {
		h.respondError(w, err)
		return
	}
	h.metrics.PaymentDecided("rejected")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actingParty(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	if err := h.service.CancelPayment(r.Context(), id, actor); err != nil {
		h.respondError(w, err)
		return
	}
	h.metrics.PaymentDecided("cancelled")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	party, err := strconv.ParseInt(r.URL.Query().Get("party"), 10, 64)
	if err != nil || party <= 0 {
		h.respondValidationError(w, "party query parameter is required")
		return
	}
	summary, err := h.service.Summary(r.Context(), party)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

// --- helpers ---

func (h *Handler) actingParty(w http.ResponseWriter, r *http.Request) (int64, bool) {
	party := shared.PartyFromContext(r.Context())
	if party == 0 {
		raw := r.Header.Get("X-Party-ID")
		party, _ = strconv.ParseInt(raw, 10, 64)
	}
	if party <= 0 {
		h.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": shared.ErrMissingParty.Error()})
		return 0, false
	}
	return party, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.respondValidationError(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondValidationError(w, "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.respondValidationError(w, "invalid field: "+verrs[0].Field())
			return false
		}
		h.respondValidationError(w, "invalid request")
		return false
	}
	return true
}

func (h *Handler) decodePeriodRequest(w http.ResponseWriter, r *http.Request, dst any, period *previewRequest) (time.Time, time.Time, bool) {
	if !h.decodeAndValidate(w, r, dst) {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(dateLayout, period.PeriodStart)
	if err != nil {
		h.respondValidationError(w, "period_start must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(dateLayout, period.PeriodEnd)
	if err != nil {
		h.respondValidationError(w, "period_end must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

// releaseIdemKey frees a consumed Idempotency-Key after the guarded operation
// failed, so a corrected retry with the same key is not rejected as a replay.
func (h *Handler) releaseIdemKey(ctx context.Context, key string) {
	if key == "" || h.idem == nil {
		return
	}
	if err := h.idem.Delete(ctx, key); err != nil {
		h.logger.Warn("idempotency key release", slog.Any("error", err))
	}
}

func (h *Handler) respondValidationError(w http.ResponseWriter, msg string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var settled *TripsAlreadySettledError
	if errors.As(err, &settled) {
		h.respondJSON(w, http.StatusConflict, map[string]any{
			"error":    settled.Error(),
			"trip_ids": settled.TripIDs,
		})
		return
	}
	var exceeds *ExceedsRemainingDueError
	if errors.As(err, &exceeds) {
		h.respondJSON(w, http.StatusConflict, map[string]any{
			"error":         exceeds.Error(),
			"remaining_due": exceeds.RemainingDue,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrInvalidParties),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrRejectionReasonRequired):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrSettlementNotFound),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, shared.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNothingOwed),
		errors.Is(err, ErrWrongParties):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotPending),
		errors.Is(err, ErrWouldExceedNetAmount),
		errors.Is(err, ErrHasApprovedPayments),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrCancelled),
		errors.Is(err, shared.ErrIdempotencyConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("settlement request failed", slog.Any("error", err))
		h.respondJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	h.respondJSON(w, status, map[string]string{"error": err.Error()})
}
