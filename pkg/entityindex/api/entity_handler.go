// Package api exposes the entity projection service over HTTP. Request
// validation beyond shape parsing happens in the service; handlers only map
// the abstract request contract onto it.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/entity-index/pkg/entityindex"
)

// EntityHandler handles HTTP requests for entities.
type EntityHandler struct {
	service entityindex.Service
	logger  *slog.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(service entityindex.Service, logger *slog.Logger) *EntityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityHandler{service: service, logger: logger}
}

// Routes returns the routes for entities.
func (h *EntityHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateEntity)
	r.Get("/", h.ListEntities)
	r.Get("/{id}", h.GetEntity)
	r.Put("/{id}", h.UpdateEntity)
	r.Delete("/{id}", h.DeleteEntity)
	r.Delete("/{id}/locales/{localeID}", h.DeleteEntityForLocale)

	return r
}

// CreateEntityRequest is the request body for creating an entity.
type CreateEntityRequest struct {
	ID             string         `json:"id,omitempty"`
	EntityTypeID   string         `json:"entity_type_id"`
	AttributeSetID string         `json:"attribute_set_id"`
	Fields         map[string]any `json:"fields"`
	Status         any            `json:"status,omitempty"`
	Locale         string         `json:"locale,omitempty"`
}

// UpdateEntityRequest is the request body for updating an entity.
type UpdateEntityRequest struct {
	Fields map[string]any `json:"fields,omitempty"`
	Status any            `json:"status,omitempty"`
	Locale string         `json:"locale,omitempty"`
}

func (h *EntityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var body CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}
	entityTypeID, err := uuid.Parse(body.EntityTypeID)
	if err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}
	attributeSetID, err := uuid.Parse(body.AttributeSetID)
	if err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}

	entity, err := h.service.CreateEntity(r.Context(), entityindex.CreateEntityRequest{
		ID:             body.ID,
		EntityTypeID:   entityTypeID,
		AttributeSetID: attributeSetID,
		Fields:         body.Fields,
		Status:         body.Status,
		Locale:         body.Locale,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, entity)
}

func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	opts := entityindex.GetEntityOptions{
		Locale:  r.URL.Query().Get("locale"),
		Status:  parseStatusParam(r.URL.Query().Get("status")),
		Include: splitParam(r.URL.Query().Get("include")),
	}
	entity, err := h.service.GetEntity(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, entity)
}

func (h *EntityHandler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	var body UpdateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}
	entity, err := h.service.UpdateEntity(r.Context(), chi.URLParam(r, "id"), entityindex.UpdateEntityRequest{
		Fields: body.Fields,
		Status: body.Status,
		Locale: body.Locale,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, entity)
}

func (h *EntityHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := entityindex.ListEntitiesRequest{
		Sort:    splitParam(q.Get("sort")),
		Include: splitParam(q.Get("include")),
		Locale:  q.Get("locale"),
		Status:  parseStatusParam(q.Get("status")),
	}
	if raw := q.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Filter); err != nil {
			h.renderError(w, r, entityindex.ErrBadRequest)
			return
		}
	}
	if s := q.Get("s"); s != "" {
		if req.Filter == nil {
			req.Filter = map[string]any{}
		}
		req.Filter["s"] = s
	}
	var err error
	if req.Offset, err = intParam(q.Get("offset")); err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}

	result, err := h.service.ListEntities(r.Context(), req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *EntityHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.service.DeleteEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, entity)
}

func (h *EntityHandler) DeleteEntityForLocale(w http.ResponseWriter, r *http.Request) {
	localeID, err := uuid.Parse(chi.URLParam(r, "localeID"))
	if err != nil {
		h.renderError(w, r, entityindex.ErrBadRequest)
		return
	}
	if err := h.service.DeleteEntityForLocale(r.Context(), chi.URLParam(r, "id"), localeID); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *EntityHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entityindex.ErrEntityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entityindex.ErrBadRequest):
		status = http.StatusBadRequest
	default:
		h.logger.Error("entity request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}

// parseStatusParam reads a status parameter: a JSON object becomes an
// operator map, anything else is a plain status name.
func parseStatusParam(raw string) any {
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return m
		}
	}
	return raw
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
