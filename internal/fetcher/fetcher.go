// Package fetcher paces, retries and decodes every outbound HTTP call of a run.
package fetcher

import (
	"context"
	"encoding/json"
)

// Getter performs paced, retried GETs.
type Getter interface {
	// Fetch GETs rawURL under the named service's policy and hands the body to
	// decode. A decode error counts as a malformed response and is retried like
	// any other transient failure.
	Fetch(ctx context.Context, service, rawURL string, decode func(body []byte) error) error
}

// GetJSON fetches rawURL and decodes the body into T.
func GetJSON[T any](ctx context.Context, g Getter, service, rawURL string) (T, error) {
	var out T
	err := g.Fetch(ctx, service, rawURL, func(body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// GetBody fetches rawURL and returns the raw body.
func GetBody(ctx context.Context, g Getter, service, rawURL string) ([]byte, error) {
	var out []byte
	err := g.Fetch(ctx, service, rawURL, func(body []byte) error {
		out = body
		return nil
	})
	return out, err
}
