package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

const defaultNearbyRadius = 5000 // meters

// HandleNearby proxies a support-centre lookup around the caller's location.
// Results are filtered, deduplicated and distance-sorted by the place source;
// recent lookups are answered from the cache to spare the upstream API.
func (m Main) HandleNearby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.places == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Nearby lookup is not configured")
		return
	}

	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" || lonStr == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing lat/lon")
		return
	}
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lon, lonErr := strconv.ParseFloat(lonStr, 64)
	if latErr != nil || lonErr != nil {
		writeJSONError(w, http.StatusBadRequest, "Missing lat/lon")
		return
	}

	radius := defaultNearbyRadius
	if v, err := strconv.Atoi(q.Get("radius")); err == nil && v > 0 {
		radius = v
	}

	// Coordinates are rounded to ~100m so nearby repeat queries share a key.
	cacheKey := fmt.Sprintf("%.3f:%.3f:%d", lat, lon, radius)
	if m.placeCache != nil {
		if places, ok := m.placeCache.Get(r.Context(), cacheKey); ok {
			writeJSON(w, places)
			return
		}
	}

	places, err := m.places.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		m.logger.Error("Nearby lookup failed", slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusBadGateway, "Overpass error")
		return
	}

	if m.placeCache != nil {
		if err := m.placeCache.Put(r.Context(), cacheKey, places); err != nil {
			m.logger.Warn("Failed to cache nearby results", slog.String(errLoggerKey, err.Error()))
		}
	}

	writeJSON(w, places)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
