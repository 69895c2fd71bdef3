// Package retention deletes generations older than a configured horizon.
// The generation behind the latest pointer is never deleted, even when it is
// older than the horizon: pointer recency always wins over age.
package retention

import (
	"time"

	"github.com/sirupsen/logrus"

	"genbak/src/generation"
)

type Pruner struct {
	Store *generation.Store
	Log   *logrus.Logger
	Now   func() time.Time
}

func New(store *generation.Store, log *logrus.Logger) *Pruner {
	return &Pruner{Store: store, Log: log, Now: time.Now}
}

// Plan returns the generations of a workload that pruning would delete.
// Unsealed generations are inert debris and are planned regardless of age.
func (p *Pruner) Plan(workload string, horizon time.Duration) ([]generation.Generation, error) {
	gens, err := p.Store.List(workload)
	if err != nil {
		return nil, err
	}
	latest, hasLatest, err := p.Store.Latest(workload)
	if err != nil {
		return nil, err
	}
	cutoff := p.Now().UTC().Add(-horizon)

	var del []generation.Generation
	for _, g := range gens {
		if hasLatest && g.Timestamp == latest.Timestamp {
			continue
		}
		if !g.Sealed {
			del = append(del, g)
			continue
		}
		ts, err := g.Time()
		if err != nil {
			p.Log.Warnf("workload %s: generation %s has an unparseable timestamp, leaving it alone", workload, g.Timestamp)
			continue
		}
		if ts.Before(cutoff) {
			del = append(del, g)
		}
	}
	return del, nil
}

// Prune deletes everything Plan selects. Failures on one generation are
// logged and do not abort deletion of the others.
func (p *Pruner) Prune(workload string, horizon time.Duration) ([]generation.Generation, error) {
	planned, err := p.Plan(workload, horizon)
	if err != nil {
		return nil, err
	}
	var removed []generation.Generation
	for _, g := range planned {
		if err := p.Store.Remove(g); err != nil {
			p.Log.Errorf("workload %s: pruning generation %s failed: %v", workload, g.Timestamp, err)
			continue
		}
		p.Log.Infof("workload %s: pruned generation %s", workload, g.Timestamp)
		removed = append(removed, g)
	}
	return removed, nil
}
