package storage

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/tis24dev/proxmox-b2/internal/logging"
)

// RetentionPolicy keeps the newest Keep archives at the remote target.
type RetentionPolicy struct {
	Keep int
}

// PruneResult reports what one retention pass did. Failed deletions are
// retried implicitly by the next run, which lists fresh state.
type PruneResult struct {
	Listed  int
	Planned []string
	Deleted []string
	Failed  map[string]error
}

// Remaining is the number of archives left at the target after the pass.
func (r *PruneResult) Remaining() int {
	return r.Listed - len(r.Deleted)
}

// PlanPrune returns the oldest len(names)-keep archive names, or nil when
// the count is within the limit. Input order does not matter: names are
// ordered by their embedded timestamp first. A negative keep counts as 0.
func PlanPrune(names []string, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(names) <= keep {
		return nil
	}
	sorted := append([]string(nil), names...)
	SortArchiveNames(sorted)
	return sorted[:len(sorted)-keep]
}

// Pruner applies a RetentionPolicy through a RemoteStore.
type Pruner struct {
	store   RemoteStore
	logger  *logging.Logger
	limiter *rate.Limiter
}

// NewPruner paces deletions to perSecond (burst deletions at once); a
// non-positive rate disables pacing.
func NewPruner(store RemoteStore, logger *logging.Logger, perSecond float64, burst int) *Pruner {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pruner{
		store:   store,
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Apply lists the target, plans and deletes. Individual deletion failures
// are logged and collected; only a listing failure returns an error.
func (p *Pruner) Apply(ctx context.Context, target RemoteTarget, policy RetentionPolicy) (*PruneResult, error) {
	objects, err := p.store.List(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("list remote archives: %w", err)
	}

	sidecars := make(map[string]bool)
	var archives []string
	for _, o := range objects {
		if IsChecksumName(o.Name) {
			sidecars[o.Name] = true
			continue
		}
		archives = append(archives, o.Name)
	}

	result := &PruneResult{
		Listed:  len(archives),
		Planned: PlanPrune(archives, policy.Keep),
		Failed:  make(map[string]error),
	}
	if len(result.Planned) == 0 {
		p.logger.Info("Remote retention: %d archive(s), limit %d, nothing to delete", len(archives), policy.Keep)
		return result, nil
	}
	p.logger.Info("Remote retention: %d archive(s), limit %d, deleting %d oldest",
		len(archives), policy.Keep, len(result.Planned))

	for _, name := range result.Planned {
		if err := p.limiter.Wait(ctx); err != nil {
			result.Failed[name] = err
			p.logger.Warning("Retention interrupted before deleting %s: %v", name, err)
			continue
		}
		if err := p.store.Delete(ctx, target, name); err != nil {
			result.Failed[name] = err
			p.logger.Warning("Failed to delete remote archive %s: %v", name, err)
			continue
		}
		result.Deleted = append(result.Deleted, name)
		p.logger.Debug("Deleted remote archive %s", name)

		// The sidecar goes with its archive; failure here only leaves a stray .sha256.
		if sidecar := name + ChecksumSuffix; sidecars[sidecar] {
			if err := p.store.Delete(ctx, target, sidecar); err != nil {
				p.logger.Warning("Failed to delete checksum %s: %v", sidecar, err)
			}
		}
	}

	p.logger.Info("Remote retention applied: %d deleted, %d failed, %d remaining",
		len(result.Deleted), len(result.Failed), result.Remaining())
	return result, nil
}
