package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/clusterpj/cluster-estate-sub001/internal/api/middleware"
	"github.com/clusterpj/cluster-estate-sub001/internal/availability"
	"github.com/clusterpj/cluster-estate-sub001/internal/calendar"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
	"github.com/clusterpj/cluster-estate-sub001/internal/websocket"
)

// AvailabilityResponse is the stored timeline of a property. Days is set
// for format=days (the default), Runs for format=runs.
type AvailabilityResponse struct {
	PropertyID string                        `json:"property_id"`
	From       string                        `json:"from"`
	To         string                        `json:"to,omitempty"`
	Days       []models.AvailabilityInterval `json:"days,omitempty"`
	Runs       []availability.Run            `json:"runs,omitempty"`
}

// RefreshResponse summarizes a reconcile-only refresh.
type RefreshResponse struct {
	PropertyID string `json:"property_id"`
	Days       int    `json:"days"`
	Conflicts  int    `json:"conflicts"`
	Anomalies  int    `json:"anomalies"`
}

// BlockRequest is the body of a manual block creation.
type BlockRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

// GetAvailability returns a property's stored timeline. from defaults to
// today; to is exclusive and open when omitted.
func GetAvailability(repo *storage.AvailabilityRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propertyID := mux.Vars(r)["propertyID"]
		q := r.URL.Query()

		from := availability.Day(time.Now())
		if v := q.Get("from"); v != "" {
			d, err := time.Parse(availability.DateLayout, v)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "from must be YYYY-MM-DD")
				return
			}
			from = d
		}
		var to time.Time
		if v := q.Get("to"); v != "" {
			d, err := time.Parse(availability.DateLayout, v)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "to must be YYYY-MM-DD")
				return
			}
			if !d.After(from) {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "to must be after from")
				return
			}
			to = d
		}
		format := q.Get("format")
		if format != "" && format != "days" && format != "runs" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "format must be days or runs")
			return
		}

		intervals, err := repo.List(r.Context(), propertyID, from, to)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query availability")
			return
		}

		resp := AvailabilityResponse{
			PropertyID: propertyID,
			From:       from.Format(availability.DateLayout),
		}
		if !to.IsZero() {
			resp.To = to.Format(availability.DateLayout)
		}
		if format == "runs" {
			resp.Runs = availability.Compact(intervals)
		} else {
			resp.Days = intervals
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// BookingsChanged is called by the booking flow after it creates, confirms
// or cancels a reservation. It drops the cached outbound feed and then
// re-materializes availability.
func BookingsChanged(orchestrator *calendar.Orchestrator, publisher *calendar.Publisher, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		propertyID := mux.Vars(r)["propertyID"]

		// The cached feed is stale whether or not the refresh succeeds.
		publisher.Invalidate(context.WithoutCancel(ctx), propertyID)

		res, err := orchestrator.RefreshProperty(ctx, propertyID)
		if err != nil {
			if errors.Is(err, calendar.ErrPropertyNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Property not found")
				return
			}
			logRefreshError(propertyID, err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to refresh availability")
			return
		}

		resp := RefreshResponse{
			PropertyID: propertyID,
			Days:       len(res.Intervals),
			Conflicts:  len(res.Conflicts),
			Anomalies:  len(res.Anomalies),
		}
		if broadcaster != nil {
			broadcaster.BroadcastAvailabilityRefreshed(propertyID, resp.Days, resp.Conflicts)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// ListBlocks returns a property's manual blocks.
func ListBlocks(repo *storage.BlockRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocks, err := repo.ListByProperty(r.Context(), mux.Vars(r)["propertyID"], time.Time{}, time.Time{})
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query blocks")
			return
		}
		if blocks == nil {
			blocks = []models.ManualBlock{}
		}

		writeJSON(w, http.StatusOK, blocks)
	}
}

// CreateBlock adds a manual block of whole days [start, end) and refreshes
// availability.
func CreateBlock(repo *storage.BlockRepository, orchestrator *calendar.Orchestrator, publisher *calendar.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		propertyID := mux.Vars(r)["propertyID"]

		var req BlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		start, err := time.Parse(availability.DateLayout, req.Start)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "start must be YYYY-MM-DD")
			return
		}
		end, err := time.Parse(availability.DateLayout, req.End)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "end must be YYYY-MM-DD")
			return
		}
		if !end.After(start) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "end must be after start")
			return
		}

		block := &models.ManualBlock{PropertyID: propertyID, Start: start, End: end, Reason: req.Reason}
		if err := repo.Create(ctx, block); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create block")
			return
		}

		if _, err := orchestrator.RefreshProperty(ctx, propertyID); err != nil {
			logRefreshError(propertyID, err)
		}
		publisher.Invalidate(ctx, propertyID)

		writeJSON(w, http.StatusCreated, block)
	}
}

// DeleteBlock removes a manual block and refreshes availability.
func DeleteBlock(repo *storage.BlockRepository, orchestrator *calendar.Orchestrator, publisher *calendar.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vars := mux.Vars(r)

		if err := repo.Delete(ctx, vars["id"]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Block not found")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to delete block")
			return
		}

		if _, err := orchestrator.RefreshProperty(ctx, vars["propertyID"]); err != nil {
			logRefreshError(vars["propertyID"], err)
		}
		publisher.Invalidate(ctx, vars["propertyID"])

		w.WriteHeader(http.StatusNoContent)
	}
}

func logRefreshError(propertyID string, err error) {
	log.Printf("Failed to refresh availability for property %s: %v", propertyID, err)
}
