package handlerapi

import (
	"github.com/cryptovault/vault/internal/scheduler"
	"github.com/cryptovault/vault/internal/vaultcache"
)

// Stats is the aggregated snapshot a mount adapter's stats subcommand
// surfaces: scheduler lane/executor/dedup/per-file counters plus content
// cache occupancy.
type Stats struct {
	Scheduler scheduler.Stats
	Content   vaultcache.Stats
}

// Snapshot returns the handle's current aggregated statistics.
func (h *Handle) Snapshot() Stats {
	return Stats{
		Scheduler: h.sched.Snapshot(),
		Content:   h.content.Snapshot(),
	}
}
