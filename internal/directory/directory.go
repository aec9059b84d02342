// Package directory resolves the universe of municipalities a run enriches.
package directory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/model"
	"github.com/sells-group/muni-enrich/internal/names"
	"github.com/sells-group/muni-enrich/pkg/ibge"
)

// CacheName is the cache holding one entity list per state code.
const CacheName = "municipios"

// CardinalityError reports a directory whose size or content does not match
// what the state is known to have. It is fatal for the run.
type CardinalityError struct {
	State    string
	Expected int
	Got      int
	Reason   string
}

func (e *CardinalityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("directory: state %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("directory: state %s: expected %d entities, got %d", e.State, e.Expected, e.Got)
}

// Resolver lists the entities of a state through the cache.
type Resolver struct {
	cache    *cache.Manager
	client   ibge.Client
	expected map[string]int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExpectedCount sets the number of entities state must have. Zero disables
// the check.
func WithExpectedCount(state string, n int) Option {
	return func(r *Resolver) {
		r.expected[state] = n
	}
}

// NewResolver creates a Resolver.
func NewResolver(m *cache.Manager, client ibge.Client, opts ...Option) *Resolver {
	r := &Resolver{
		cache:    m,
		client:   client,
		expected: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListEntities returns every entity of the state, ordered by normalized name.
// A list that fails validation is neither cached nor returned.
func (r *Resolver) ListEntities(ctx context.Context, stateCode string) ([]model.Entity, error) {
	entities, err := cache.GetOrFetch(ctx, r.cache, CacheName, stateCode, func(ctx context.Context) ([]model.Entity, error) {
		list, err := r.client.Municipalities(ctx, stateCode)
		if err != nil {
			return nil, err
		}
		entities := toEntities(list)
		if err := r.validate(stateCode, entities); err != nil {
			return nil, err
		}
		zap.L().Info("directory: fetched entities",
			zap.String("state", stateCode),
			zap.Int("count", len(entities)),
		)
		return entities, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "directory: list entities of state %s", stateCode)
	}

	// A cached list is re-checked in case the expected count changed.
	if err := r.validate(stateCode, entities); err != nil {
		return nil, eris.Wrapf(err, "directory: cached list for state %s", stateCode)
	}
	return entities, nil
}

func toEntities(list []ibge.Municipality) []model.Entity {
	entities := make([]model.Entity, 0, len(list))
	for _, m := range list {
		entities = append(entities, model.Entity{
			Name: strings.TrimSpace(m.Name),
			Code: strconv.Itoa(m.ID),
		})
	}
	SortByName(entities)
	return entities
}

// SortByName orders entities by normalized name, keeping the input order of
// names that normalize equally.
func SortByName(entities []model.Entity) {
	slices.SortStableFunc(entities, func(a, b model.Entity) int {
		return strings.Compare(names.Normalize(a.Name), names.Normalize(b.Name))
	})
}

func (r *Resolver) validate(state string, entities []model.Entity) error {
	if want := r.expected[state]; want > 0 && len(entities) != want {
		return &CardinalityError{State: state, Expected: want, Got: len(entities)}
	}
	if len(entities) == 0 {
		return &CardinalityError{State: state, Reason: "empty directory"}
	}

	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			return &CardinalityError{State: state, Reason: fmt.Sprintf("entity %s has no name", e.Code)}
		}
		if len(e.Code) != 7 {
			return &CardinalityError{State: state, Reason: fmt.Sprintf("entity %q has malformed code %q", e.Name, e.Code)}
		}
		if _, dup := seen[e.Code]; dup {
			return &CardinalityError{State: state, Reason: fmt.Sprintf("duplicate code %s", e.Code)}
		}
		seen[e.Code] = struct{}{}
	}
	return nil
}
