package coordinator

import (
	"time"

	"github.com/webhacking/statesync/peermanager"
	"github.com/webhacking/statesync/types"
)

// Config is the enumerated Configuration from spec.md §6. Loaded via
// github.com/alexflint/go-arg flag tags in cmd/statesync, following the
// teacher's own CLI-args dependency.
type Config struct {
	TickIntervalMs    uint64 `arg:"--tick-interval-ms" default:"1000" help:"period of the progress watchdog tick"`
	LongPollTimeoutMs uint64 `arg:"--long-poll-timeout-ms" default:"5000" help:"full-node long-poll window"`
	ChunkLimit        uint64 `arg:"--chunk-limit" default:"1000" help:"default limit in outbound ChunkRequest"`
	MaxChunkLimit     uint64 `arg:"--max-chunk-limit" default:"5000" help:"server-side rejection threshold for inbound limit"`
	MaxTimeoutMs      uint64 `arg:"--max-timeout-ms" default:"30000" help:"server-side rejection threshold for inbound timeout"`

	UpstreamPeers []types.PeerID `arg:"--upstream-peers" help:"peer ids eligible in FullNode role"`
}

func (c Config) tickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c Config) longPollTimeout() time.Duration {
	return time.Duration(c.LongPollTimeoutMs) * time.Millisecond
}

// watchdogTimeout computes the effective watchdog timeout per spec.md
// §4.3.5: FullNode uses tick_interval + long_poll_timeout; Validator
// uses 2 * tick_interval.
func (c Config) watchdogTimeout(role peermanager.Role) time.Duration {
	if role == peermanager.Validator {
		return 2 * c.tickInterval()
	}
	return c.tickInterval() + c.longPollTimeout()
}

// DefaultConfig mirrors the struct tag defaults, for tests and the
// reference executor-proxy harness that don't go through go-arg parsing.
func DefaultConfig() Config {
	return Config{
		TickIntervalMs:    1000,
		LongPollTimeoutMs: 5000,
		ChunkLimit:        1000,
		MaxChunkLimit:     5000,
		MaxTimeoutMs:      30000,
	}
}
