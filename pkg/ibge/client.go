// Package ibge provides a client for the IBGE localities API.
package ibge

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/muni-enrich/internal/fetcher"
)

// DefaultURL lists the municipalities of one state; {state} is the IBGE state code.
const DefaultURL = "https://servicodados.ibge.gov.br/api/v1/localidades/estados/{state}/municipios"

// Service is the fetcher policy name used for IBGE calls.
const Service = "directory"

// Municipality is one entry of the localities response.
type Municipality struct {
	ID   int    `json:"id"`
	Name string `json:"nome"`
}

// Client lists municipalities.
type Client interface {
	// Municipalities returns every municipality of the state, in API order.
	Municipalities(ctx context.Context, stateCode string) ([]Municipality, error)
}

// Option configures the IBGE client.
type Option func(*httpClient)

// WithURL sets the URL template (for testing).
func WithURL(tmpl string) Option {
	return func(c *httpClient) {
		c.urlTemplate = tmpl
	}
}

type httpClient struct {
	getter      fetcher.Getter
	urlTemplate string
}

// NewClient creates an IBGE client that issues its requests through g.
func NewClient(g fetcher.Getter, opts ...Option) Client {
	c := &httpClient{
		getter:      g,
		urlTemplate: DefaultURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Municipalities(ctx context.Context, stateCode string) ([]Municipality, error) {
	if strings.TrimSpace(stateCode) == "" {
		return nil, eris.New("ibge: empty state code")
	}
	u := strings.ReplaceAll(c.urlTemplate, "{state}", stateCode)

	list, err := fetcher.GetJSON[[]Municipality](ctx, c.getter, Service, u)
	if err != nil {
		return nil, eris.Wrapf(err, "ibge: list municipalities of state %s", stateCode)
	}
	return list, nil
}
