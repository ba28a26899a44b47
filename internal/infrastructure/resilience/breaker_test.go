package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, b *Breaker, outcomes ...bool) {
	t.Helper()
	for _, ok := range outcomes {
		done, err := b.Allow()
		require.NoError(t, err)
		done(ok)
	}
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the failure streak",
			settings: Settings{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)
			record(t, breaker, tt.requests...)
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestOpenBreakerRejectsUntilTimeout(t *testing.T) {
	now := time.Now()
	breaker := New("javac", Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	breaker.now = func() time.Time { return now }

	record(t, breaker, false)

	_, err := breaker.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	done, err := breaker.Allow()
	require.NoError(t, err)

	_, err = breaker.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests, "half-open admits MaxRequests trials")

	done(true)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	breaker := New("g++", Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	breaker.now = func() time.Time { return now }

	record(t, breaker, false)
	now = now.Add(2 * time.Second)

	record(t, breaker, false)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestStaleOutcomeIsIgnored(t *testing.T) {
	breaker := New("node", Settings{
		Interval:    time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	stale, err := breaker.Allow()
	require.NoError(t, err)

	record(t, breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	// Reported after the breaker already opened: must not touch the new generation.
	stale(true)
	assert.Equal(t, StateOpen, breaker.State())
	assert.Equal(t, uint32(0), breaker.Counts().TotalSuccesses)
}

func TestDoneIsIdempotent(t *testing.T) {
	breaker := New("python3", Settings{})

	done, err := breaker.Allow()
	require.NoError(t, err)
	done(true)
	done(true)

	assert.Equal(t, uint32(1), breaker.Counts().TotalSuccesses)
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	breaker := New("java", Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	record(t, breaker, false, false)

	assert.Equal(t, []string{"java:closed->open"}, transitions)
}

func TestGroupReusesBreakers(t *testing.T) {
	group := NewGroup(Settings{})

	var wg sync.WaitGroup
	got := make([]*Breaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = group.Get("cpp")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
	assert.NotSame(t, group.Get("cpp"), group.Get("java"))
	assert.Equal(t, map[string]State{"cpp": StateClosed, "java": StateClosed}, group.States())
}
