package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRoute = errors.New("no route")

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())

	failures, state := cb.Counters()
	assert.Zero(t, failures)
	assert.Equal(t, CircuitClosed, state)
}

func TestCircuitBreaker_DefaultThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: -1})
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		cb.Record(errRoute)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	cb.Record(errRoute)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_OpensAtThresholdAndRejects(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	cb.Record(errRoute)
	cb.Record(errRoute)
	require.NoError(t, cb.Allow())

	cb.Record(errRoute)
	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	cb.Record(errRoute)
	cb.Record(errRoute)
	cb.Record(nil)

	failures, _ := cb.Counters()
	assert.Zero(t, failures)

	cb.Record(errRoute)
	cb.Record(errRoute)
	assert.Equal(t, CircuitClosed, cb.State(), "failures must be consecutive")
}

func TestCircuitBreaker_StaysOpenForTheBatch(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	cb.Record(errRoute)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Record(nil)
	assert.Equal(t, CircuitOpen, cb.State(), "a late success does not close the breaker")
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_OnStateChangeFiresOnce(t *testing.T) {
	var changes []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		OnStateChange: func(from, to CircuitState) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 5; i++ {
		cb.Record(errRoute)
	}
	assert.Equal(t, []string{"closed->open"}, changes)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
