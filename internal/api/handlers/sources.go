package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clusterpj/cluster-estate-sub001/internal/api/middleware"
	"github.com/clusterpj/cluster-estate-sub001/internal/calendar"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// SourceRequest is the body of create and update requests.
type SourceRequest struct {
	Name          string               `json:"name"`
	Kind          models.SourceKind    `json:"kind"`
	Address       string               `json:"address"`
	SyncFrequency models.SyncFrequency `json:"sync_frequency"`
	Priority      *int                 `json:"priority"`
	Enabled       *bool                `json:"enabled"`
}

// validate checks the request and normalizes the address in place.
func (req *SourceRequest) validate() (string, bool) {
	if req.Name == "" {
		return "Name is required", false
	}
	if !req.Kind.Valid() {
		return "Kind must be internal, external-import or external-export", false
	}
	if req.SyncFrequency == "" {
		req.SyncFrequency = models.SyncHourly
	}
	if !req.SyncFrequency.Valid() {
		return "Sync frequency must be hourly, daily, weekly or monthly", false
	}
	if req.Kind == models.SourceKindExternalImport {
		addr, err := calendar.NormalizeAddress(req.Address)
		if err != nil {
			var invalid *calendar.InvalidSourceError
			if errors.As(err, &invalid) {
				return "Invalid feed address: " + invalid.Reason, false
			}
			return "Invalid feed address", false
		}
		req.Address = addr
	}
	return "", true
}

// ListSources returns the calendar sources of a property.
func ListSources(repo *storage.SourceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propertyID := mux.Vars(r)["propertyID"]

		sources, err := repo.ListByProperty(r.Context(), propertyID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query calendar sources")
			return
		}
		if sources == nil {
			sources = []models.CalendarSource{}
		}

		writeJSON(w, http.StatusOK, sources)
	}
}

// CreateSource adds a calendar source to a property.
func CreateSource(repo *storage.SourceRepository, properties calendar.PropertyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		propertyID := mux.Vars(r)["propertyID"]

		var req SourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if msg, ok := req.validate(); !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, msg)
			return
		}

		property, err := properties.GetProperty(ctx, propertyID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load property")
			return
		}
		if property == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Property not found")
			return
		}

		src := &models.CalendarSource{
			PropertyID:    propertyID,
			Name:          req.Name,
			Kind:          req.Kind,
			Address:       req.Address,
			SyncFrequency: req.SyncFrequency,
			Enabled:       true,
		}
		if req.Priority != nil {
			src.Priority = *req.Priority
		}
		if req.Enabled != nil {
			src.Enabled = *req.Enabled
		}

		if err := repo.Create(ctx, src); err != nil {
			if errors.Is(err, storage.ErrDuplicateInternal) {
				middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Property already has an internal calendar source")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create calendar source")
			return
		}

		writeJSON(w, http.StatusCreated, src)
	}
}

// GetSource returns a single calendar source.
func GetSource(repo *storage.SourceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := repo.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load calendar source")
			return
		}
		if src == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
			return
		}

		writeJSON(w, http.StatusOK, src)
	}
}

// UpdateSource updates the owner-editable fields of a source and refreshes
// the property, since priority and enabled both change the timeline. Kind is
// fixed at creation.
func UpdateSource(repo *storage.SourceRepository, orchestrator *calendar.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		src, err := repo.GetByID(ctx, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load calendar source")
			return
		}
		if src == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
			return
		}

		var req SourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.Kind != "" && req.Kind != src.Kind {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Kind cannot be changed")
			return
		}
		req.Kind = src.Kind
		if req.Name == "" {
			req.Name = src.Name
		}
		if req.Address == "" {
			req.Address = src.Address
		}
		if req.SyncFrequency == "" {
			req.SyncFrequency = src.SyncFrequency
		}
		if msg, ok := req.validate(); !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, msg)
			return
		}

		src.Name = req.Name
		src.Address = req.Address
		src.SyncFrequency = req.SyncFrequency
		if req.Priority != nil {
			src.Priority = *req.Priority
		}
		if req.Enabled != nil {
			src.Enabled = *req.Enabled
		}

		if err := repo.Update(ctx, src); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to update calendar source")
			return
		}

		if _, err := orchestrator.RefreshProperty(ctx, src.PropertyID); err != nil {
			logRefreshError(src.PropertyID, err)
		}

		writeJSON(w, http.StatusOK, src)
	}
}

// DisableSource stops future syncs while keeping history. The property is
// refreshed so the source's days are released right away.
func DisableSource(repo *storage.SourceRepository, orchestrator *calendar.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		src, err := repo.GetByID(ctx, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load calendar source")
			return
		}
		if src == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
			return
		}

		if err := repo.Disable(ctx, src.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to disable calendar source")
			return
		}

		if _, err := orchestrator.RefreshProperty(ctx, src.PropertyID); err != nil {
			logRefreshError(src.PropertyID, err)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteSource removes a source with its events and runs, then refreshes
// the property's availability without it.
func DeleteSource(repo *storage.SourceRepository, orchestrator *calendar.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		src, err := repo.GetByID(ctx, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load calendar source")
			return
		}
		if src == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
			return
		}

		if err := repo.Delete(ctx, src.ID); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to delete calendar source")
			return
		}

		if _, err := orchestrator.RefreshProperty(ctx, src.PropertyID); err != nil {
			// The delete stands; the next sweep or roll catches up.
			logRefreshError(src.PropertyID, err)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncSource runs a manual sync and returns the finished run. A run that
// failed is still a 200: the failure is the run's outcome.
func SyncSource(orchestrator *calendar.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := orchestrator.SyncSource(r.Context(), mux.Vars(r)["id"])
		switch {
		case errors.Is(err, calendar.ErrSourceNotFound):
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar source not found")
			return
		case errors.Is(err, calendar.ErrSourceDisabled):
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Calendar source is disabled")
			return
		case err != nil:
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to start sync")
			return
		}

		writeJSON(w, http.StatusOK, run)
	}
}

// ListRuns returns the most recent runs of a source, newest first.
func ListRuns(runs *storage.SyncRunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 500 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Limit must be between 1 and 500")
				return
			}
			limit = n
		}

		list, err := runs.ListBySource(r.Context(), mux.Vars(r)["id"], limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query sync runs")
			return
		}
		if list == nil {
			list = []models.SyncRun{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}

// GetRun returns one run with its conflicts.
func GetRun(runs *storage.SyncRunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := runs.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load sync run")
			return
		}
		if run == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Sync run not found")
			return
		}

		writeJSON(w, http.StatusOK, run)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
