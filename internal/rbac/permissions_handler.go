package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/shared"
)

// PermissionsHandler exposes the matrix layout and per-administrator grants.
type PermissionsHandler struct {
	logger *slog.Logger
	store  MatrixStore
	rbac   Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, store MatrixStore, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, store: store, rbac: rbac}
}

// MountRoutes registers permission routes on the admin router.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions/sections", h.listSections)
	r.Route("/admins", func(r chi.Router) {
		r.With(h.rbac.Require(SectionAdmins, ActionView)).Get("/permissions", h.listAssignments)
		r.With(h.rbac.Require(SectionAdmins, ActionView)).Get("/{id}/permissions", h.getAssignment)
		r.With(h.rbac.Require(SectionAdmins, ActionUpdate)).Put("/{id}/permissions", h.putMatrix)
	})
}

type routeView struct {
	Prefix  string  `json:"prefix"`
	Section Section `json:"section"`
	Action  Action  `json:"action"`
}

func (h *PermissionsHandler) listSections(w http.ResponseWriter, _ *http.Request) {
	routes := make([]routeView, 0, len(routeTable))
	for _, rule := range RouteTable() {
		routes = append(routes, routeView(rule))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sections": Sections(),
		"actions":  AllActions(),
		"routes":   routes,
	})
}

func (h *PermissionsHandler) listAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.store.ListAssignments(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	page := shared.PaginationFromRequest(r, len(assignments))
	start, end := page.Bounds()
	httpx.JSON(w, http.StatusOK, map[string]any{"admins": assignments[start:end], "pagination": page})
}

func (h *PermissionsHandler) getAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == SuperAdminID {
		httpx.JSON(w, http.StatusOK, Assignment{AdminID: SuperAdminID, Role: RoleSuperAdmin, Matrix: SuperAdminMatrix()})
		return
	}
	a, err := h.store.GetAssignment(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *PermissionsHandler) putMatrix(w http.ResponseWriter, r *http.Request) {
	var m Matrix
	if err := httpx.DecodeJSON(r, &m); err != nil {
		httpx.RespondValidation(w, map[string]string{"body": "invalid permission matrix"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.SetMatrix(r.Context(), id, m); err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("permissions updated", slog.String("admin", id))
	httpx.JSON(w, http.StatusOK, map[string]any{"adminId": id, "permissions": m})
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "administrator not found")
	case errors.Is(err, ErrImmutable):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("permissions request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
