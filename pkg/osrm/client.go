// Package osrm provides a client for the OSRM route service.
package osrm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/muni-enrich/internal/fetcher"
)

// DefaultBaseURL is the public OSRM demo server.
const DefaultBaseURL = "https://router.project-osrm.org"

// Service is the fetcher policy name used for OSRM calls.
const Service = "route"

// Coordinate is a WGS84 position.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Response is the route service reply.
type Response struct {
	Code      string     `json:"code"`
	Message   string     `json:"message,omitempty"`
	Routes    []Route    `json:"routes"`
	Waypoints []Waypoint `json:"waypoints"`
}

// Route is one computed route. Distance is in meters, duration in seconds.
type Route struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}

// Waypoint is an input coordinate snapped to the road network.
type Waypoint struct {
	Name     string     `json:"name"`
	Location [2]float64 `json:"location"` // lon, lat
}

// Client computes driving routes.
type Client interface {
	// Route returns the fastest driving route between two points. A reply whose
	// code is not "Ok" or that carries no route is an error.
	Route(ctx context.Context, from, to Coordinate) (*Response, error)
}

// Option configures the OSRM client.
type Option func(*httpClient)

// WithBaseURL sets a custom server (for testing or a self-hosted instance).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithProfile sets the routing profile. Default: driving.
func WithProfile(p string) Option {
	return func(c *httpClient) {
		c.profile = p
	}
}

type httpClient struct {
	getter  fetcher.Getter
	baseURL string
	profile string
}

// NewClient creates an OSRM client that issues its requests through g.
func NewClient(g fetcher.Getter, opts ...Option) Client {
	c := &httpClient{
		getter:  g,
		baseURL: DefaultBaseURL,
		profile: "driving",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Route(ctx context.Context, from, to Coordinate) (*Response, error) {
	u := fmt.Sprintf("%s/route/v1/%s/%s;%s?overview=false&alternatives=false",
		c.baseURL, c.profile, formatCoord(from), formatCoord(to))

	resp, err := fetcher.GetJSON[Response](ctx, c.getter, Service, u)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: route")
	}
	if resp.Code != "Ok" {
		return nil, eris.Errorf("osrm: route code %q: %s", resp.Code, resp.Message)
	}
	if len(resp.Routes) == 0 {
		return nil, eris.New("osrm: response has no routes")
	}
	return &resp, nil
}

func formatCoord(p Coordinate) string {
	return strconv.FormatFloat(p.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}
