// Package routing resolves driving routes from the run's origin, behind a
// circuit breaker that stops the batch when the route service keeps failing.
package routing

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/model"
	"github.com/sells-group/muni-enrich/internal/names"
	"github.com/sells-group/muni-enrich/internal/resilience"
	"github.com/sells-group/muni-enrich/pkg/osrm"
)

// CacheName is the cache holding one route per normalized destination name.
const CacheName = "route"

// Resolver computes routes through the cache and an OSRM client.
type Resolver struct {
	cache      *cache.Manager
	client     osrm.Client
	breaker    *resilience.CircuitBreaker
	originName string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOriginName sets the address used when the route service does not name
// the origin.
func WithOriginName(name string) Option {
	return func(r *Resolver) {
		r.originName = name
	}
}

// NewResolver creates a Resolver. A nil breaker gets the default configuration.
func NewResolver(m *cache.Manager, client osrm.Client, breaker *resilience.CircuitBreaker, opts ...Option) *Resolver {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	}
	r := &Resolver{
		cache:   m,
		client:  client,
		breaker: breaker,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker exposes the resolver's circuit breaker.
func (r *Resolver) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

// ResolveRoute returns the driving route from origin to dest. An open breaker
// refuses the call before the cache is consulted. Every failed or unusable
// service call counts toward the breaker and a good one resets it; cache hits
// do neither.
func (r *Resolver) ResolveRoute(ctx context.Context, origin, dest model.GeoPoint, destName string) (model.Route, error) {
	if err := r.breaker.Allow(); err != nil {
		return model.Route{}, eris.Wrapf(err, "routing: route to %s", destName)
	}

	key := names.Normalize(destName)
	route, err := cache.GetOrFetch(ctx, r.cache, CacheName, key, func(ctx context.Context) (model.Route, error) {
		route, err := r.fetch(ctx, origin, dest, destName)
		if err != nil && ctx.Err() != nil {
			return model.Route{}, err
		}
		r.breaker.Record(err)
		if err != nil {
			failures, state := r.breaker.Counters()
			zap.L().Warn("routing: route failed",
				zap.String("destination", destName),
				zap.Int("consecutive_failures", failures),
				zap.Stringer("breaker", state),
				zap.Error(err),
			)
		}
		return route, err
	})
	if err != nil {
		return model.Route{}, eris.Wrapf(err, "routing: route to %s", destName)
	}
	return route, nil
}

func (r *Resolver) fetch(ctx context.Context, origin, dest model.GeoPoint, destName string) (model.Route, error) {
	resp, err := r.client.Route(ctx,
		osrm.Coordinate{Lat: origin.Lat, Lon: origin.Lon},
		osrm.Coordinate{Lat: dest.Lat, Lon: dest.Lon},
	)
	if err != nil {
		return model.Route{}, err
	}

	best := resp.Routes[0]
	if !validMeasure(best.Distance) || !validMeasure(best.Duration) {
		return model.Route{}, eris.Errorf("routing: invalid route measures distance=%v duration=%v", best.Distance, best.Duration)
	}

	route := model.Route{
		DistanceKm:         best.Distance / 1000,
		DurationH:          best.Duration / 3600,
		OriginAddress:      r.originName,
		OriginCoords:       model.GeoPoint{Lat: origin.Lat, Lon: origin.Lon},
		DestinationAddress: destName,
		DestinationCoords:  model.GeoPoint{Lat: dest.Lat, Lon: dest.Lon},
	}
	if n := len(resp.Waypoints); n > 0 {
		first, last := resp.Waypoints[0], resp.Waypoints[n-1]
		if first.Name != "" {
			route.OriginAddress = first.Name
		}
		route.OriginCoords = model.GeoPoint{Lat: first.Location[1], Lon: first.Location[0]}
		if n > 1 {
			if last.Name != "" {
				route.DestinationAddress = last.Name
			}
			route.DestinationCoords = model.GeoPoint{Lat: last.Location[1], Lon: last.Location[0]}
		}
	}
	return route, nil
}

func validMeasure(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
