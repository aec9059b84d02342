// Package nominatim provides a client for the OpenStreetMap Nominatim search API.
package nominatim

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/muni-enrich/internal/fetcher"
)

// DefaultURL is the public Nominatim search endpoint.
const DefaultURL = "https://nominatim.openstreetmap.org/search"

// Service is the fetcher policy name used for Nominatim calls.
const Service = "geocode"

// Place is one search hit. Nominatim returns coordinates as strings.
type Place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Coordinates parses the place's latitude and longitude.
func (p Place) Coordinates() (lat, lon float64, err error) {
	lat, err = strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "nominatim: parse lat %q", p.Lat)
	}
	lon, err = strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "nominatim: parse lon %q", p.Lon)
	}
	return lat, lon, nil
}

// Client searches free-form queries.
type Client interface {
	// Search returns at most one place for query. An empty slice means no match.
	Search(ctx context.Context, query string) ([]Place, error)
}

// Option configures the Nominatim client.
type Option func(*httpClient)

// WithBaseURL sets a custom search URL (for testing or a self-hosted instance).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

type httpClient struct {
	getter  fetcher.Getter
	baseURL string
}

// NewClient creates a Nominatim client that issues its requests through g.
func NewClient(g fetcher.Getter, opts ...Option) Client {
	c := &httpClient{
		getter:  g,
		baseURL: DefaultURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) ([]Place, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("addressdetails", "0")

	places, err := fetcher.GetJSON[[]Place](ctx, c.getter, Service, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, eris.Wrapf(err, "nominatim: search %q", query)
	}
	return places, nil
}
