// Package pipeline drives the per-entity enrichment loop and writes its output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/geo"
	"github.com/sells-group/muni-enrich/internal/model"
	"github.com/sells-group/muni-enrich/internal/names"
	"github.com/sells-group/muni-enrich/internal/resilience"
)

// IndexSource loads the development index table.
type IndexSource interface {
	LoadTable(ctx context.Context) (model.IndexTable, error)
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	ResolveName(ctx context.Context, name string) (model.GeoPoint, error)
}

// Router resolves driving routes and exposes the breaker that guards them.
type Router interface {
	ResolveRoute(ctx context.Context, origin, dest model.GeoPoint, destName string) (model.Route, error)
	Breaker() *resilience.CircuitBreaker
}

// Observer receives one event per emitted record and every breaker change.
type Observer interface {
	EntityEmitted(status string)
	SetBreakerOpen(open bool)
}

// AbortError stops the batch. Records emitted before it are kept.
type AbortError struct {
	Cause      error
	LastEntity string
}

func (e *AbortError) Error() string {
	last := e.LastEntity
	if last == "" {
		last = "none"
	}
	return fmt.Sprintf("pipeline: run aborted after %s: %v", last, e.Cause)
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// Result is the outcome of one run.
type Result struct {
	Origin       model.GeoPoint
	Records      []model.EnrichedRecord
	IndexLoaded  bool
	RouteSkipped bool
	Duration     time.Duration
}

// Options tunes a run.
type Options struct {
	OriginName string
	SkipRoute  bool
	Limit      int // 0 processes every entity
}

// Enricher runs the stages for each entity in order.
type Enricher struct {
	index    IndexSource
	geocoder Geocoder
	router   Router
	observer Observer
	opts     Options
}

// New creates an Enricher. router may be nil when opts.SkipRoute is set.
func New(index IndexSource, geocoder Geocoder, router Router, opts Options) *Enricher {
	if opts.OriginName == "" {
		opts.OriginName = "Salvador"
	}
	return &Enricher{
		index:    index,
		geocoder: geocoder,
		router:   router,
		opts:     opts,
	}
}

// WithObserver reports emitted records and breaker state to o.
func (e *Enricher) WithObserver(o Observer) *Enricher {
	e.observer = o
	return e
}

// Run enriches entities in the given order. A failure to locate the origin is
// fatal; per-entity failures degrade that entity's record. When the routing
// breaker opens, the loop stops before the next entity and Run returns the
// records emitted so far together with an *AbortError. Cancelling ctx aborts
// the same way.
func (e *Enricher) Run(ctx context.Context, entities []model.Entity) (*Result, error) {
	start := time.Now()
	skipRoute := e.opts.SkipRoute || e.router == nil
	res := &Result{RouteSkipped: skipRoute}

	origin, err := e.geocoder.ResolveName(ctx, e.opts.OriginName)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: geocode origin %s", e.opts.OriginName)
	}
	res.Origin = origin
	zap.L().Info("pipeline: origin located",
		zap.String("origin", e.opts.OriginName),
		zap.Float64("lat", origin.Lat),
		zap.Float64("lon", origin.Lon),
		zap.String("query", origin.ResolvedQuery),
	)

	table, err := e.index.LoadTable(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "pipeline: load index")
		}
		zap.L().Warn("pipeline: index table unavailable, continuing without it", zap.Error(err))
	} else {
		res.IndexLoaded = true
	}

	if e.opts.Limit > 0 && e.opts.Limit < len(entities) {
		entities = entities[:e.opts.Limit]
	}

	res.Records = make([]model.EnrichedRecord, 0, len(entities))
	var last string
	for i, ent := range entities {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, &AbortError{Cause: err, LastEntity: last}
		}
		if !skipRoute && e.router.Breaker().State() == resilience.CircuitOpen {
			res.Duration = time.Since(start)
			return res, &AbortError{Cause: resilience.ErrCircuitOpen, LastEntity: last}
		}

		rec := e.enrich(ctx, ent, origin, table, skipRoute)
		if err := ctx.Err(); err != nil {
			// Cancelled mid-entity: the half-done record is not emitted.
			res.Duration = time.Since(start)
			return res, &AbortError{Cause: err, LastEntity: last}
		}

		zap.L().Info("pipeline: entity emitted",
			zap.Int("n", i+1),
			zap.Int("total", len(entities)),
			zap.String("municipio", ent.Name),
			zap.String("reached", string(rec.Stage)),
			zap.String("status", rec.Status),
		)
		rec.Stage = model.StageEmitted
		res.Records = append(res.Records, rec)
		last = ent.Name
		e.emitted(rec)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (e *Enricher) enrich(ctx context.Context, ent model.Entity, origin model.GeoPoint, table model.IndexTable, skipRoute bool) model.EnrichedRecord {
	rec := model.EnrichedRecord{Entity: ent, Stage: model.StageDirectoryOK}
	log := zap.L().With(zap.String("municipio", ent.Name))

	if v, ok := table.Lookup(names.Normalize(ent.Name)); ok {
		rec.Index = &v
		rec.Stage = model.StageIndexed
	} else if table != nil {
		log.Debug("pipeline: no index value")
	}

	point, err := e.geocoder.ResolveName(ctx, ent.Name)
	if err != nil {
		log.Warn("pipeline: geocode failed", zap.Error(err))
		rec.Status = model.StatusGeocodeFailed
		rec.Err = err.Error()
		return rec
	}
	rec.Geo = &point
	rec.Origin = &origin
	rec.Stage = model.StageGeocoded

	km := geo.HaversineKm(origin.Lat, origin.Lon, point.Lat, point.Lon)
	rec.GeodesicKm = &km

	var routeErr error
	if !skipRoute {
		route, err := e.router.ResolveRoute(ctx, origin, point, ent.Name)
		if err != nil {
			routeErr = err
			log.Warn("pipeline: route failed", zap.Error(err))
			rec.Err = err.Error()
		} else {
			rec.Route = &route
			rec.Stage = model.StageRouted
		}
		if e.observer != nil {
			e.observer.SetBreakerOpen(e.router.Breaker().State() == resilience.CircuitOpen)
		}
	}

	rec.Status = model.StatusOK
	if rec.Index == nil || routeErr != nil {
		rec.Status = model.StatusPartial
	}
	return rec
}

func (e *Enricher) emitted(rec model.EnrichedRecord) {
	if e.observer != nil {
		e.observer.EntityEmitted(rec.Status)
	}
}

// IsAbort reports whether err stopped the batch and returns the abort detail.
func IsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
