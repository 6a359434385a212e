package obligations

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/platform/httpx"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// FeeGenerationEnqueuer schedules the bulk fee run in the background.
type FeeGenerationEnqueuer interface {
	EnqueueFeeGeneration(ctx context.Context, actor shared.Actor, in GenerateFeesInput) (string, error)
}

// Handler exposes the obligation store over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	jobs    FeeGenerationEnqueuer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, jobs FeeGenerationEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, jobs: jobs}
}

// MountRoutes registers obligation routes. Paths are flat so the payment
// linker can add its own routes below the same prefixes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/fee-obligations", h.listFees)
	r.Post("/fee-obligations", h.createFee)
	r.Post("/fee-obligations/generate", h.generateFees)
	r.Get("/fee-obligations/{id}", h.getFee)
	r.Post("/fee-obligations/{id}/cancel", h.cancelFee)
	r.Post("/fee-obligations/{id}/mark-paid", h.markFeePaid)

	r.Get("/item-obligations", h.listItems)
	r.Post("/item-obligations", h.createItem)
	r.Get("/item-obligations/{id}", h.getItem)
	r.Post("/item-obligations/{id}/mark-paid", h.markItemPaid)
}

type createFeeRequest struct {
	MemberID int64           `json:"member_id" validate:"required,gt=0"`
	Year     int             `json:"year" validate:"required,gte=1900,lte=9999"`
	Amount   decimal.Decimal `json:"amount"`
	DueDate  string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	Notes    string          `json:"notes" validate:"max=2000"`
}

type createItemRequest struct {
	MemberID      *int64          `json:"member_id" validate:"omitempty,gt=0"`
	ReceiverName  string          `json:"receiver_name" validate:"max=200"`
	ReceiverPhone string          `json:"receiver_phone" validate:"max=50"`
	OrganizerID   *int64          `json:"organizing_member_id" validate:"omitempty,gt=0"`
	Description   string          `json:"description" validate:"required,max=500"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date" validate:"required,datetime=2006-01-02"`
}

type generateFeesRequest struct {
	Year    int             `json:"year" validate:"required,gte=1900,lte=9999"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate string          `json:"due_date" validate:"required,datetime=2006-01-02"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type feeResponse struct {
	FeeObligation
	Outstanding decimal.Decimal `json:"outstanding"`
}

type itemResponse struct {
	ItemObligation
	Outstanding decimal.Decimal `json:"outstanding"`
}

func toFeeResponse(o FeeObligation) feeResponse {
	return feeResponse{FeeObligation: o, Outstanding: o.Outstanding()}
}

func toItemResponse(o ItemObligation) itemResponse {
	return itemResponse{ItemObligation: o, Outstanding: o.Outstanding()}
}

func (h *Handler) createFee(w http.ResponseWriter, r *http.Request) {
	var req createFeeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	due, err := httpx.ParseDate("due_date", req.DueDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.CreateFeeObligation(r.Context(), shared.ActorFromContext(r.Context()), CreateFeeInput{
		MemberID: req.MemberID,
		Year:     req.Year,
		Amount:   req.Amount,
		DueDate:  due,
		Notes:    req.Notes,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toFeeResponse(created))
}

func (h *Handler) generateFees(w http.ResponseWriter, r *http.Request) {
	var req generateFeesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	due, err := httpx.ParseDate("due_date", req.DueDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := requireManager(actor); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := GenerateFeesInput{Year: req.Year, Amount: req.Amount, DueDate: due}
	if !in.Amount.GreaterThan(decimal.Zero) {
		httpx.RespondError(w, h.logger, shared.Invalid("amount", "must be greater than zero"))
		return
	}
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Jobs Unavailable", "background jobs are not configured")
		return
	}
	taskID, err := h.jobs.EnqueueFeeGeneration(r.Context(), actor, in)
	if err != nil {
		h.logger.Error("enqueue fee generation", slog.Any("error", err), slog.Int("year", req.Year))
		httpx.Problem(w, http.StatusServiceUnavailable, "Jobs Unavailable", "The job could not be queued. Please try again later.")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) listFees(w http.ResponseWriter, r *http.Request) {
	year, err := httpx.QueryInt(r, "year")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	memberID, err := httpx.QueryInt64(r, "member_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	fees, err := h.service.ListFees(r.Context(), FeeFilter{
		Year:     year,
		MemberID: memberID,
		Status:   FeeStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out := make([]feeResponse, 0, len(fees))
	for _, f := range fees {
		out = append(out, toFeeResponse(f))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getFee(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	fee, err := h.service.GetFee(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFeeResponse(fee))
}

func (h *Handler) cancelFee(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	fee, err := h.service.CancelFeeObligation(r.Context(), shared.ActorFromContext(r.Context()), id, req.Reason)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFeeResponse(fee))
}

func (h *Handler) markFeePaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	fee, err := h.service.MarkFeePaid(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFeeResponse(fee))
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	due, err := httpx.ParseDate("due_date", req.DueDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.CreateItemObligation(r.Context(), shared.ActorFromContext(r.Context()), CreateItemInput{
		MemberID:      req.MemberID,
		ReceiverName:  req.ReceiverName,
		ReceiverPhone: req.ReceiverPhone,
		OrganizerID:   req.OrganizerID,
		Description:   req.Description,
		Amount:        req.Amount,
		DueDate:       due,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(created))
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.QueryInt64(r, "member_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items, err := h.service.ListItems(r.Context(), ItemFilter{
		MemberID: memberID,
		Status:   ItemStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, i := range items {
		out = append(out, toItemResponse(i))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) markItemPaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.MarkItemPaid(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}
