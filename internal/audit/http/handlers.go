package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/storefront-hq/storefront/internal/audit"
	"github.com/storefront-hq/storefront/internal/platform/httpx"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
	dateLayout        = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the admin audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

type validationError struct {
	field string
	msg   string
}

func (e validationError) Error() string { return e.field + ": " + e.msg }

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	if result.Rows == nil {
		result.Rows = []audit.TimelineRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"filters": map[string]string{
			"from": filters.From.Format(dateLayout),
			"to":   filters.To.AddDate(0, 0, -1).Format(dateLayout),
		},
		"rows":   result.Rows,
		"paging": result.Paging,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters reads from/to as inclusive calendar days. To is returned as
// the exclusive start of the following day.
func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	today := h.now().UTC().Truncate(24 * time.Hour)

	to := today
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return audit.TimelineFilters{}, validationError{field: "to", msg: "must be YYYY-MM-DD"}
		}
		to = parsed
	}
	from := to.Add(-defaultDateRange)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return audit.TimelineFilters{}, validationError{field: "from", msg: "must be YYYY-MM-DD"}
		}
		from = parsed
	}
	if from.After(to) {
		return audit.TimelineFilters{}, validationError{field: "from", msg: "must not be after to"}
	}
	if to.Sub(from) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, validationError{field: "to", msg: fmt.Sprintf("range exceeds %d days", maxDateRangeHours/24)}
	}

	filters := audit.TimelineFilters{
		From:   from,
		To:     to.AddDate(0, 0, 1),
		Actor:  strings.TrimSpace(q.Get("actor")),
		Entity: strings.TrimSpace(q.Get("entity")),
		Action: strings.TrimSpace(q.Get("action")),
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return audit.TimelineFilters{}, validationError{field: "page", msg: "must be a positive integer"}
		}
		filters.Page = page
	}
	if raw := q.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return audit.TimelineFilters{}, validationError{field: "pageSize", msg: "must be a positive integer"}
		}
		filters.PageSize = size
	}
	return filters, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var vErr validationError
	if errors.As(err, &vErr) {
		httpx.RespondValidation(w, map[string]string{vErr.field: vErr.msg})
		return
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
