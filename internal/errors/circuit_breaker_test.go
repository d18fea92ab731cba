package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          5 * time.Millisecond,
	}
}

func waitForState(t *testing.T, transitions <-chan CircuitState) CircuitState {
	t.Helper()
	select {
	case s := <-transitions:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for breaker state change")
		return StateClosed
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("control-api", testBreakerConfig())
	require.NoError(t, cb.Allow())

	cb.Mark(fmt.Errorf("boom"))
	cb.Mark(fmt.Errorf("boom"))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "control-api", unavailable.Name)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := testBreakerConfig()
	transitions := make(chan CircuitState, 8)
	cfg.OnStateChange = func(from, to CircuitState, name string) {
		transitions <- to
	}

	cb := NewCircuitBreaker("control-api", cfg)
	cb.Mark(fmt.Errorf("boom"))
	cb.Mark(fmt.Errorf("boom"))
	require.Equal(t, StateOpen, waitForState(t, transitions))

	time.Sleep(2 * cfg.Timeout)
	require.NoError(t, cb.Allow(), "open breakers admit a trial request after the timeout")
	require.Equal(t, StateHalfOpen, waitForState(t, transitions))

	cb.Mark(nil)
	require.Equal(t, StateClosed, waitForState(t, transitions))
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerResetClosesImmediately(t *testing.T) {
	cb := NewCircuitBreaker("control-api", testBreakerConfig())
	cb.Mark(fmt.Errorf("boom"))
	cb.Mark(fmt.Errorf("boom"))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}
