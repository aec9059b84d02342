// Package devindex loads the per-municipality development index table.
package devindex

import (
	"bytes"
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/fetcher"
	"github.com/sells-group/muni-enrich/internal/model"
)

const (
	// CacheName is the cache holding one parsed table per source URL.
	CacheName = "idhm2010"

	// Service is the fetcher policy name used for the index page.
	Service = "index"

	// DefaultURL is the Wikipedia list of Bahia municipalities by HDI-M.
	DefaultURL = "https://pt.wikipedia.org/wiki/Lista_de_munic%C3%ADpios_da_Bahia_por_IDH-M"
)

// Scraper fetches and parses the index table through the cache.
type Scraper struct {
	cache       *cache.Manager
	getter      fetcher.Getter
	url         string
	nameHeader  string
	valueHeader string
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithURL sets the page to scrape.
func WithURL(u string) Option {
	return func(s *Scraper) {
		s.url = u
	}
}

// WithHeaders sets the header hints that identify the name and value columns.
func WithHeaders(nameHeader, valueHeader string) Option {
	return func(s *Scraper) {
		s.nameHeader = nameHeader
		s.valueHeader = valueHeader
	}
}

// NewScraper creates a Scraper.
func NewScraper(m *cache.Manager, g fetcher.Getter, opts ...Option) *Scraper {
	s := &Scraper{
		cache:       m,
		getter:      g,
		url:         DefaultURL,
		nameHeader:  "munic",
		valueHeader: "idh",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the page the table is read from; it is also the cache key.
func (s *Scraper) URL() string {
	return s.url
}

// LoadTable returns the index table, fetching and parsing the page on a miss.
// A page without a usable table is an error and is not cached.
func (s *Scraper) LoadTable(ctx context.Context) (model.IndexTable, error) {
	table, err := cache.GetOrFetch(ctx, s.cache, CacheName, s.url, func(ctx context.Context) (model.IndexTable, error) {
		body, err := fetcher.GetBody(ctx, s.getter, Service, s.url)
		if err != nil {
			return nil, err
		}
		table, err := ParseTable(bytes.NewReader(body), s.nameHeader, s.valueHeader)
		if err != nil {
			return nil, err
		}
		zap.L().Info("devindex: parsed table",
			zap.String("url", s.url),
			zap.Int("rows", len(table)),
			zap.Int("missing", countMissing(table)),
		)
		return table, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "devindex: load table")
	}
	return table, nil
}

func countMissing(t model.IndexTable) int {
	n := 0
	for _, v := range t {
		if v == nil {
			n++
		}
	}
	return n
}
