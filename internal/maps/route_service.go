// README: Driving ETA estimates via the Google Directions API, with a haversine fallback.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"dishpatch/internal/types"
)

// Assumed average urban driving speed used when the API is unavailable.
const fallbackSpeedKmh = 25.0

// RouteService estimates driving times between coordinates.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a RouteService with the given API key. An empty key
// yields a service that always falls back to distance-based estimates.
func NewRouteService(apiKey string) (*RouteService, error) {
	if apiKey == "" {
		return &RouteService{}, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Estimate returns the driving duration from one point to another.
func (s *RouteService) Estimate(ctx context.Context, from, to types.Point) (time.Duration, error) {
	if s.client == nil {
		return fallbackEstimate(from, to), nil
	}

	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", from.Lat, from.Lng),
		Destination: fmt.Sprintf("%f,%f", to.Lat, to.Lng),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, fmt.Errorf("no route found")
	}
	return routes[0].Legs[0].Duration, nil
}

func fallbackEstimate(from, to types.Point) time.Duration {
	hours := from.DistanceKm(to) / fallbackSpeedKmh
	return time.Duration(hours * float64(time.Hour))
}
