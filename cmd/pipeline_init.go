package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/config"
	"github.com/sells-group/muni-enrich/internal/devindex"
	"github.com/sells-group/muni-enrich/internal/directory"
	"github.com/sells-group/muni-enrich/internal/fetcher"
	"github.com/sells-group/muni-enrich/internal/geocoder"
	"github.com/sells-group/muni-enrich/internal/monitoring"
	"github.com/sells-group/muni-enrich/internal/pipeline"
	"github.com/sells-group/muni-enrich/internal/resilience"
	"github.com/sells-group/muni-enrich/internal/routing"
	"github.com/sells-group/muni-enrich/pkg/ibge"
	"github.com/sells-group/muni-enrich/pkg/nominatim"
	"github.com/sells-group/muni-enrich/pkg/osrm"
)

// runEnv holds everything the enrich and export commands need.
type runEnv struct {
	Cache     *cache.Manager
	Directory *directory.Resolver
	Enricher  *pipeline.Enricher
	Metrics   *monitoring.Metrics
	Alerter   *monitoring.Alerter
}

// Close releases the cache store.
func (e *runEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

// initStore opens the cache backend named by cache.driver.
func initStore(ctx context.Context) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case "sqlite":
		return cache.NewSQLiteStore(ctx, filepath.Join(cfg.Cache.Dir, "cache.db"))
	case "json", "":
		return cache.NewFileStore(cfg.Cache.Dir), nil
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

func policyFrom(p config.PolicyConfig) resilience.Policy {
	return resilience.NewPolicy(p.MinIntervalMs, p.MaxAttempts, p.InitialBackoffMs, p.MaxBackoffMs)
}

// initEnv wires the cache, fetcher, clients and resolvers. An offline env
// answers only from the cache and never touches the network.
func initEnv(ctx context.Context, offline, skipRoute bool, limit int) (*runEnv, error) {
	store, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	cacheOpts := []cache.Option{cache.WithObserver(metrics)}
	if offline {
		cacheOpts = append(cacheOpts, cache.WithOffline())
	}
	m := cache.NewManager(store, cacheOpts...)

	f := fetcher.NewRateLimited(fetcher.HTTPOptions{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
		HostRate:  rate.Limit(cfg.HTTP.HostRPS),
		Policies: map[string]resilience.Policy{
			ibge.Service:      policyFrom(cfg.Directory.PolicyConfig),
			devindex.Service:  policyFrom(cfg.Index.PolicyConfig),
			nominatim.Service: policyFrom(cfg.Geocode.PolicyConfig),
			osrm.Service:      policyFrom(cfg.Route.PolicyConfig),
		},
		Observer: metrics,
	})

	dir := directory.NewResolver(m,
		ibge.NewClient(f, ibge.WithURL(cfg.Directory.URL)),
		directory.WithExpectedCount(cfg.State.Code, cfg.State.ExpectedEntities),
	)

	scraper := devindex.NewScraper(m, f,
		devindex.WithURL(cfg.Index.URL),
		devindex.WithHeaders(cfg.Index.NameHeader, cfg.Index.ValueHeader),
	)

	gc := geocoder.New(m,
		nominatim.NewClient(f, nominatim.WithBaseURL(cfg.Geocode.URL)),
		geocoder.WithTemplates(cfg.Geocode.Queries),
		geocoder.WithRegion(cfg.State.Name, cfg.State.Country),
	)

	var router pipeline.Router
	if !skipRoute {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Route.BreakerThreshold,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("routing breaker state change",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
		router = routing.NewResolver(m,
			osrm.NewClient(f, osrm.WithBaseURL(cfg.Route.URL), osrm.WithProfile(cfg.Route.Profile)),
			breaker,
			routing.WithOriginName(cfg.Origin.Name),
		)
	}

	enricher := pipeline.New(scraper, gc, router, pipeline.Options{
		OriginName: cfg.Origin.Name,
		SkipRoute:  skipRoute,
		Limit:      limit,
	}).WithObserver(metrics)

	return &runEnv{
		Cache:     m,
		Directory: dir,
		Enricher:  enricher,
		Metrics:   metrics,
		Alerter:   monitoring.NewAlerter(cfg.Monitoring),
	}, nil
}
