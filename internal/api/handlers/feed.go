package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clusterpj/cluster-estate-sub001/internal/api/middleware"
	"github.com/clusterpj/cluster-estate-sub001/internal/calendar"
)

// Feed serves a property's busy/free iCalendar feed.
func Feed(publisher *calendar.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propertyID := mux.Vars(r)["propertyID"]

		body, err := publisher.Publish(r.Context(), propertyID)
		if err != nil {
			if errors.Is(err, calendar.ErrPropertyNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Property not found")
				return
			}
			log.Printf("Failed to publish feed for property %s: %v", propertyID, err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to render feed")
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="property-%s.ics"`, propertyID))
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
