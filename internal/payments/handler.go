package payments

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/platform/httpx"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// IdempotencyHeader carries an optional UUID that makes link requests safe to
// retry.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the payment linker.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/fee-obligations/{id}/payments", h.listPayments(KindFee))
	r.Post("/fee-obligations/{id}/payments", h.link(KindFee))
	r.Delete("/fee-payments/{id}", h.unlink(KindFee))

	r.Get("/item-obligations/{id}/payments", h.listPayments(KindItem))
	r.Post("/item-obligations/{id}/payments", h.link(KindItem))
	r.Delete("/item-payments/{id}", h.unlink(KindItem))

	r.Get("/transactions/{id}/allocation", h.allocation)
}

type linkRequest struct {
	TransactionID *int64          `json:"transaction_id" validate:"omitempty,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Method        string          `json:"payment_method" validate:"max=50"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

func (h *Handler) listPayments(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		var payments []Payment
		if kind == KindFee {
			payments, err = h.service.ListFeePayments(r.Context(), id)
		} else {
			payments, err = h.service.ListItemPayments(r.Context(), id)
		}
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		if payments == nil {
			payments = []Payment{}
		}
		httpx.JSON(w, http.StatusOK, payments)
	}
}

func (h *Handler) link(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		obligationID, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		var req linkRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		if err := httpx.Validate(req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		paymentDate, err := httpx.ParseDate("payment_date", req.PaymentDate)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		in := LinkInput{
			ObligationID:  obligationID,
			TransactionID: req.TransactionID,
			Amount:        req.Amount,
			PaymentDate:   paymentDate,
			Method:        strings.TrimSpace(req.Method),
			Notes:         strings.TrimSpace(req.Notes),
		}
		if raw := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); raw != "" {
			key, err := uuid.Parse(raw)
			if err != nil {
				httpx.RespondError(w, h.logger, shared.Invalid(IdempotencyHeader, "must be a UUID"))
				return
			}
			in.IdempotencyKey = &key
		}
		if err := in.Validate(); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		if in.TransactionID != nil {
			alloc, err := h.service.TransactionAllocation(r.Context(), *in.TransactionID)
			if err != nil {
				httpx.RespondError(w, h.logger, err)
				return
			}
			if !alloc.Covers(in.Amount) {
				httpx.RespondError(w, h.logger, shared.Invalid("amount", "exceeds the remaining unlinked balance of "+shared.FormatEUR(alloc.Remaining)))
				return
			}
		}
		var payment Payment
		if kind == KindFee {
			payment, err = h.service.LinkFeePayment(r.Context(), shared.ActorFromContext(r.Context()), in)
		} else {
			payment, err = h.service.LinkItemPayment(r.Context(), shared.ActorFromContext(r.Context()), in)
		}
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, payment)
	}
}

func (h *Handler) unlink(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		actor := shared.ActorFromContext(r.Context())
		if kind == KindFee {
			err = h.service.UnlinkFeePayment(r.Context(), actor, id)
		} else {
			err = h.service.UnlinkItemPayment(r.Context(), actor, id)
		}
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) allocation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	alloc, err := h.service.TransactionAllocation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	payments, err := h.service.ListByTransaction(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"allocation": alloc,
		"payments":   payments,
	})
}
