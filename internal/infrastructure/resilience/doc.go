/*
Package resilience provides a circuit breaker for toolchain process spawning.

# Overview

The execution runner guards each language toolchain with its own breaker.
When a toolchain binary is missing or the host cannot fork, spawn attempts
keep failing; the breaker opens and later requests for that language fail
fast with an internal fault instead of paying the spawn cost each time.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	done, err := group.Get("cpp").Allow()
	if err != nil {
		return err // resilience.ErrCircuitOpen
	}
	err = cmd.Start()
	done(err == nil)

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
