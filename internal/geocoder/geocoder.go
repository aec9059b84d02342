// Package geocoder resolves place names to coordinates through an ordered
// chain of query variants, caching every hit.
package geocoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/model"
	"github.com/sells-group/muni-enrich/internal/names"
	"github.com/sells-group/muni-enrich/pkg/nominatim"
)

// CacheName is the cache holding one point per normalized primary query.
const CacheName = "geocode"

// DefaultTemplates is the fallback chain, most specific first. Placeholders:
// {name}, {state}, {country}.
var DefaultTemplates = []string{
	"Prefeitura Municipal de {name}, {state}, {country}",
	"{name}, {state}, {country}",
	"{name}, {country}",
	"{name}",
}

// ResolutionError means no variant produced a location. Cause is the last
// transport failure, if any variant failed that way.
type ResolutionError struct {
	Name  string
	Tried []string
	Cause error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("geocoder: no location for %q after %d queries", e.Name, len(e.Tried))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Geocoder resolves names through the cache and a Nominatim client.
type Geocoder struct {
	cache     *cache.Manager
	client    nominatim.Client
	templates []string
	state     string
	country   string
}

// Option configures a Geocoder.
type Option func(*Geocoder)

// WithTemplates replaces the fallback chain. An empty list keeps the default.
func WithTemplates(templates []string) Option {
	return func(g *Geocoder) {
		if len(templates) > 0 {
			g.templates = templates
		}
	}
}

// WithRegion sets the values substituted for {state} and {country}.
func WithRegion(state, country string) Option {
	return func(g *Geocoder) {
		g.state = state
		g.country = country
	}
}

// New creates a Geocoder.
func New(m *cache.Manager, client nominatim.Client, opts ...Option) *Geocoder {
	g := &Geocoder{
		cache:     m,
		client:    client,
		templates: DefaultTemplates,
		state:     "Bahia",
		country:   "Brasil",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Variants expands the templates for name, dropping empty and repeated queries.
func (g *Geocoder) Variants(name string) []string {
	r := strings.NewReplacer("{name}", name, "{state}", g.state, "{country}", g.country)

	out := make([]string, 0, len(g.templates))
	seen := make(map[string]struct{}, len(g.templates))
	for _, tmpl := range g.templates {
		q := strings.Join(strings.Fields(r.Replace(tmpl)), " ")
		q = strings.Trim(q, ", ")
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// ResolveName geocodes name through its variants.
func (g *Geocoder) ResolveName(ctx context.Context, name string) (model.GeoPoint, error) {
	p, err := g.Resolve(ctx, g.Variants(name))
	var re *ResolutionError
	if errors.As(err, &re) {
		re.Name = name
	}
	return p, err
}

// Resolve tries each variant in order and returns the first hit, recording the
// winning query and the ones that missed before it. The result is cached under
// the normalized first variant; a miss on every variant is not cached.
func (g *Geocoder) Resolve(ctx context.Context, variants []string) (model.GeoPoint, error) {
	if len(variants) == 0 {
		return model.GeoPoint{}, eris.New("geocoder: no query variants")
	}
	key := names.Normalize(variants[0])

	return cache.GetOrFetch(ctx, g.cache, CacheName, key, func(ctx context.Context) (model.GeoPoint, error) {
		return g.walk(ctx, variants)
	})
}

func (g *Geocoder) walk(ctx context.Context, variants []string) (model.GeoPoint, error) {
	var failed []string
	var lastErr error

	for _, q := range variants {
		places, err := g.client.Search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return model.GeoPoint{}, eris.Wrap(ctx.Err(), "geocoder: cancelled")
			}
			zap.L().Warn("geocoder: query failed, trying next variant",
				zap.String("query", q),
				zap.Error(err),
			)
			lastErr = err
			failed = append(failed, q)
			continue
		}
		if len(places) == 0 {
			failed = append(failed, q)
			continue
		}

		lat, lon, err := places[0].Coordinates()
		if err != nil {
			zap.L().Warn("geocoder: unusable coordinates", zap.String("query", q), zap.Error(err))
			failed = append(failed, q)
			continue
		}

		if len(failed) > 0 {
			zap.L().Debug("geocoder: resolved by fallback",
				zap.String("query", q),
				zap.Strings("failed", failed),
			)
		}
		return model.GeoPoint{
			Lat:           lat,
			Lon:           lon,
			ResolvedQuery: q,
			FailedQueries: failed,
			DisplayName:   places[0].DisplayName,
		}, nil
	}

	return model.GeoPoint{}, &ResolutionError{Name: variants[0], Tried: variants, Cause: lastErr}
}
