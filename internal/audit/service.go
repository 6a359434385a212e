package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository reads audit rows.
type Repository interface {
	Window(ctx context.Context, q WindowQuery) ([]TimelineRow, error)
}

// Service serves the audit timeline to admins and auditors.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit rows, newest first.
func (s *Service) Timeline(ctx context.Context, actor shared.Actor, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	if err := shared.RequireActor(actor); err != nil {
		return Result{}, err
	}
	if !actor.IsAdmin() && !actor.HasRole(shared.RoleAuditor) {
		return Result{}, fmt.Errorf("audit: timeline requires admin or auditor: %w", shared.ErrForbidden)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Before(filters.From) {
		return Result{}, shared.Invalid("to", "must not be before from")
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	if page > shared.MaxPage {
		return Result{}, shared.Invalid("page", fmt.Sprintf("must not exceed %d", shared.MaxPage))
	}

	q := WindowQuery{
		ActorID:  optionalID(filters.ActorID),
		Entity:   optionalText(filters.Entity),
		EntityID: optionalText(filters.EntityID),
		Action:   optionalText(filters.Action),
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize + 1,
	}
	if !filters.From.IsZero() {
		from := shared.Day(filters.From)
		q.From = &from
	}
	if !filters.To.IsZero() {
		before := shared.Day(filters.To).AddDate(0, 0, 1)
		q.Before = &before
	}

	rows, err := s.repo.Window(ctx, q)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

func optionalText(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
