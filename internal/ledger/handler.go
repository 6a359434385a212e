package ledger

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/platform/httpx"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Handler exposes the transaction ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions", h.list)
	r.Post("/transactions", h.create)
	r.Get("/transactions/summary", h.summary)
	r.Get("/transactions/{id}", h.get)
	r.Patch("/transactions/{id}", h.update)
	r.Delete("/transactions/{id}", h.delete)
}

type createRequest struct {
	BookingDate  string          `json:"booking_date" validate:"required,datetime=2006-01-02"`
	BookingText  string          `json:"booking_text" validate:"max=500"`
	Purpose      string          `json:"purpose" validate:"max=500"`
	Payer        string          `json:"payer" validate:"max=200"`
	Amount       decimal.Decimal `json:"amount"`
	CategoryID   *int64          `json:"category_id" validate:"omitempty,gt=0"`
	BusinessYear int             `json:"business_year" validate:"omitempty,gte=1900,lte=9999"`
	Comment      string          `json:"comment" validate:"max=2000"`
}

type transactionResponse struct {
	Transaction
	Locked bool `json:"locked"`
}

func toResponse(t Transaction) transactionResponse {
	return transactionResponse{Transaction: t, Locked: t.IsLocked()}
}

func parseFilter(r *http.Request) (Filter, error) {
	var f Filter
	var err error
	if f.From, err = httpx.QueryDate(r, "from"); err != nil {
		return Filter{}, err
	}
	if f.To, err = httpx.QueryDate(r, "to"); err != nil {
		return Filter{}, err
	}
	if f.CategoryID, err = httpx.QueryInt64(r, "category_id"); err != nil {
		return Filter{}, err
	}
	if f.Year, err = httpx.QueryInt(r, "year"); err != nil {
		return Filter{}, err
	}
	f.Search = r.URL.Query().Get("q")
	f.Sign = Sign(r.URL.Query().Get("sign"))
	return f, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, err := httpx.QueryInt(r, "page")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	perPage, err := httpx.QueryInt(r, "per_page")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var txns []Transaction
	if page != nil {
		size := 0
		if perPage != nil {
			size = *perPage
		}
		var p shared.Pagination
		txns, p, err = h.service.ListPage(r.Context(), filter, *page, size)
		if err == nil {
			w.Header().Set("X-Total-Count", strconv.Itoa(p.Total))
			w.Header().Set("X-Total-Pages", strconv.Itoa(p.TotalPages))
		}
	} else {
		txns, err = h.service.ListByFilter(r.Context(), filter)
	}
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toResponse(t))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sum, err := h.service.Summarize(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"count":         sum.Count,
		"income":        sum.Income,
		"expense":       sum.Expense,
		"balance":       sum.Balance,
		"balance_label": shared.FormatEUR(sum.Balance),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	booking, err := httpx.ParseDate("booking_date", req.BookingDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.Create(r.Context(), shared.ActorFromContext(r.Context()), CreateInput{
		BookingDate:  booking,
		BookingText:  req.BookingText,
		Purpose:      req.Purpose,
		Payer:        req.Payer,
		Amount:       req.Amount,
		CategoryID:   req.CategoryID,
		BusinessYear: req.BusinessYear,
		Comment:      req.Comment,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		httpx.RespondError(w, h.logger, shared.Invalid("body", "could not be read"))
		return
	}
	patch, err := ParsePatch(raw)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	t, err := h.service.Update(r.Context(), shared.ActorFromContext(r.Context()), id, patch)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), shared.ActorFromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
