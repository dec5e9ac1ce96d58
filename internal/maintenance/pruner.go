// Package maintenance runs background upkeep for long-lived server mode,
// currently pruning stale git worktree registrations on a cron schedule.
package maintenance

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// WorktreePruner prunes stale worktree registrations for one repository
type WorktreePruner interface {
	PruneWorktrees(repoRoot string) error
}

// Pruner schedules periodic worktree pruning
type Pruner struct {
	git      WorktreePruner
	repoRoot string
	cron     *cron.Cron
	entry    cron.EntryID
}

// NewPruner creates a Pruner for the given repository and cron schedule.
// Standard five-field expressions and descriptors like @hourly are accepted.
func NewPruner(git WorktreePruner, repoRoot, schedule string) (*Pruner, error) {
	p := &Pruner{
		git:      git,
		repoRoot: repoRoot,
		cron:     cron.New(),
	}

	entry, err := p.cron.AddFunc(schedule, p.prune)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	p.entry = entry
	return p, nil
}

// Start begins scheduled pruning in the background
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop stops the schedule; a prune already in flight finishes
func (p *Pruner) Stop() {
	p.cron.Stop()
}

func (p *Pruner) prune() {
	if err := p.git.PruneWorktrees(p.repoRoot); err != nil {
		log.Printf("[maintenance] worktree prune failed: %v", err)
	}
}
