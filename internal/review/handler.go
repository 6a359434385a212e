package review

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/vereinskasse/vereinskasse/internal/platform/httpx"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Handler exposes check periods.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers review routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/check-periods", h.list)
	r.Post("/check-periods", h.create)
	r.Get("/check-periods/{id}", h.overview)
	r.Post("/check-periods/{id}/checks", h.recordCheck)
	r.Post("/check-periods/{id}/finalize", h.finalize)
}

type createRequest struct {
	Name         string `json:"period_name" validate:"required,max=200"`
	BusinessYear int    `json:"business_year" validate:"required,gte=1900,lte=9999"`
	DateFrom     string `json:"date_from" validate:"required,datetime=2006-01-02"`
	DateTo       string `json:"date_to" validate:"required,datetime=2006-01-02"`
	LeaderID     int64  `json:"leader_id" validate:"required,gt=0"`
	AssistantID  int64  `json:"assistant_id" validate:"required,gt=0,nefield=LeaderID"`
	Notes        string `json:"notes" validate:"max=2000"`
}

type checkRequest struct {
	TransactionID int64  `json:"transaction_id" validate:"required,gt=0"`
	Verdict       string `json:"check_result" validate:"required,oneof=approved under_investigation"`
	Remarks       string `json:"remarks" validate:"max=2000"`
}

type overviewResponse struct {
	Period       CheckPeriod         `json:"period"`
	Progress     Progress            `json:"progress"`
	Transactions []PeriodTransaction `json:"transactions"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	year, err := httpx.QueryInt(r, "year")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	periods, err := h.service.ListPeriods(r.Context(), year)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if periods == nil {
		periods = []CheckPeriod{}
	}
	httpx.JSON(w, http.StatusOK, periods)
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
	from, err := httpx.ParseDate("date_from", req.DateFrom)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	to, err := httpx.ParseDate("date_to", req.DateTo)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), shared.ActorFromContext(r.Context()), CreatePeriodInput{
		Name:         req.Name,
		BusinessYear: req.BusinessYear,
		DateFrom:     from,
		DateTo:       to,
		LeaderID:     req.LeaderID,
		AssistantID:  req.AssistantID,
		Notes:        req.Notes,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	resp, err := h.loadOverview(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) loadOverview(ctx context.Context, id int64) (overviewResponse, error) {
	period, err := h.service.GetPeriod(ctx, id)
	if err != nil {
		return overviewResponse{}, err
	}
	resp := overviewResponse{Period: period}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		progress, err := h.service.Progress(ctx, id)
		if err != nil {
			return err
		}
		resp.Progress = progress
		return nil
	})

	g.Go(func() error {
		txns, err := h.service.ListPeriodTransactions(ctx, id)
		if err != nil {
			return err
		}
		resp.Transactions = txns
		return nil
	})

	if err := g.Wait(); err != nil {
		return overviewResponse{}, err
	}
	if resp.Transactions == nil {
		resp.Transactions = []PeriodTransaction{}
	}
	return resp, nil
}

func (h *Handler) recordCheck(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	outcome, err := h.service.RecordCheck(r.Context(), shared.ActorFromContext(r.Context()), RecordCheckInput{
		PeriodID:      id,
		TransactionID: req.TransactionID,
		Verdict:       Verdict(req.Verdict),
		Remarks:       req.Remarks,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Finalize(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.logger.Info("check period finalized", slog.Int64("period_id", result.Period.ID), slog.Int("locked", result.Locked))
	httpx.JSON(w, http.StatusOK, result)
}
