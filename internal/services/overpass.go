package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/mindcare-mx/mindcare-web/internal/models"
	"golang.org/x/time/rate"
)

const defaultOverpassURL = "https://overpass-api.de/api/interpreter"

// Keywords that mark an amenity as relevant to mental health. Matched against
// the lowercased concatenation of name and descriptive tags.
var mentalHealthKeywords = []string{
	"mental", "psy", "psic", "counsel", "salud mental", "psiquiatr", "psicolog",
}

// Overpass queries the Overpass API of OpenStreetMap for health-related
// amenities around a point and reduces the raw elements to a deduplicated,
// distance-sorted list of mental-health places.
//
// Overpass is a shared public service, so outbound calls go through a
// politeness limiter.
type Overpass struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter

	logger *slog.Logger
}

// NewOverpass creates an Overpass client. An empty endpoint selects the
// public interpreter instance.
func NewOverpass(endpoint string, logger *slog.Logger) Overpass {
	if endpoint == "" {
		endpoint = defaultOverpassURL
	}
	return Overpass{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
		logger:   logger.With(slog.String("module", "overpass")),
	}
}

type overpassElement struct {
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func overpassQuery(lat, lon float64, radius int) string {
	const amenities = `"amenity"~"clinic|hospital|doctors|social_facility|healthcare"`
	return fmt.Sprintf(`[out:json][timeout:25];(
  node(around:%d,%f,%f)[%s];
  way(around:%d,%f,%f)[%s];
  relation(around:%d,%f,%f)[%s];
);out center tags;`,
		radius, lat, lon, amenities,
		radius, lat, lon, amenities,
		radius, lat, lon, amenities)
}

// Nearby returns mental-health related places within radius meters of the
// given point, deduplicated by name and address and sorted by distance.
func (o Overpass) Nearby(ctx context.Context, lat, lon float64, radius int) ([]models.Place, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{"data": {overpassQuery(lat, lon, radius)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error querying overpass: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("overpass returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Elements []overpassElement `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("error decoding overpass response: %w", err)
	}

	return reducePlaces(decoded.Elements, lat, lon), nil
}

func reducePlaces(elements []overpassElement, lat, lon float64) []models.Place {
	seen := make(map[string]struct{})
	places := make([]models.Place, 0, len(elements))

	for _, el := range elements {
		name := el.Tags["name"]
		plat, plon := el.Lat, el.Lon
		if plat == 0 && plon == 0 && el.Center != nil {
			plat, plon = el.Center.Lat, el.Center.Lon
		}
		if name == "" || plat == 0 || plon == 0 {
			continue
		}
		if !matchesKeywords(name, el.Tags) {
			continue
		}

		var addrParts []string
		for _, key := range []string{"addr:street", "addr:housenumber", "addr:city"} {
			if v := el.Tags[key]; v != "" {
				addrParts = append(addrParts, v)
			}
		}
		address := strings.Join(addrParts, ", ")

		key := name + "||" + address
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		phone := el.Tags["phone"]
		if phone == "" {
			phone = el.Tags["contact:phone"]
		}
		if phone == "" {
			phone = el.Tags["telephone"]
		}

		places = append(places, models.Place{
			ID:       el.ID,
			Name:     name,
			Address:  address,
			Phone:    phone,
			Opening:  el.Tags["opening_hours"],
			Lat:      plat,
			Lon:      plon,
			Distance: haversine(lat, lon, plat, plon),
		})
	}

	slices.SortFunc(places, func(a, b models.Place) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return places
}

func matchesKeywords(name string, tags map[string]string) bool {
	text := strings.ToLower(strings.Join([]string{
		name, tags["amenity"], tags["healthcare"], tags["servicetype"], tags["description"],
	}, " "))
	for _, kw := range mentalHealthKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// haversine returns the great-circle distance between two points in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000

	toRad := func(v float64) float64 { return v * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
