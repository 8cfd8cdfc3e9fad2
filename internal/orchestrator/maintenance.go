package orchestrator

import (
	"context"
	"errors"

	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

// RemoteArchive is an archive at the remote target with its sidecar state.
type RemoteArchive struct {
	storage.RemoteObject
	HasChecksum bool
}

// Inventory is what the list command shows.
type Inventory struct {
	Local       []storage.LocalArchive
	Remote      []RemoteArchive
	RemoteStats *storage.Stats
	RemoteErr   error
}

// Inventory lists the local archive directory and, unless remote is false,
// the remote target. A remote listing failure is reported in RemoteErr so
// the local half can still be shown.
func (o *Orchestrator) Inventory(ctx context.Context, run *Run, remote bool) (*Inventory, error) {
	local, err := storage.ListLocal(run.ArchiveDir)
	if err != nil {
		return nil, err
	}
	inv := &Inventory{Local: local}
	if !remote || o.store == nil {
		return inv, nil
	}

	archives, stats, err := o.RemoteArchives(ctx, run)
	if err != nil {
		o.logger.Warning("Cannot list %s: %v", run.Target, err)
		inv.RemoteErr = err
		return inv, nil
	}
	inv.Remote = archives
	inv.RemoteStats = stats
	return inv, nil
}

// RemoteArchives lists the archives at the target oldest first, folding
// .sha256 sidecars into HasChecksum.
func (o *Orchestrator) RemoteArchives(ctx context.Context, run *Run) ([]RemoteArchive, *storage.Stats, error) {
	objects, err := o.store.List(ctx, run.Target)
	if err != nil {
		return nil, nil, err
	}
	sidecars := make(map[string]bool)
	for _, obj := range objects {
		if storage.IsChecksumName(obj.Name) {
			sidecars[obj.Name] = true
		}
	}
	archives := make([]RemoteArchive, 0, len(objects))
	for _, obj := range objects {
		if storage.IsChecksumName(obj.Name) {
			continue
		}
		archives = append(archives, RemoteArchive{
			RemoteObject: obj,
			HasChecksum:  sidecars[obj.Name+storage.ChecksumSuffix],
		})
	}
	return archives, storage.ComputeStats(objects), nil
}

// Prune applies remote retention without building anything. A dry run
// touches no remote at all, not even to list it.
func (o *Orchestrator) Prune(ctx context.Context, run *Run) (*storage.PruneResult, error) {
	if run.DryRun {
		o.logger.Skip("Retention (dry run): %s not listed, keep %d", run.Target, run.Keep)
		return &storage.PruneResult{Failed: map[string]error{}}, nil
	}
	if o.store == nil {
		return nil, &StageError{Stage: StageEnvironment, Code: types.ExitEnvironmentError, Err: errors.New("no remote store configured")}
	}
	if o.checkTools != nil {
		if err := o.checkTools(); err != nil {
			return nil, &StageError{Stage: StageEnvironment, Code: types.ExitEnvironmentError, Err: err}
		}
	}

	if err := o.store.EnsureRemote(ctx, run.Target.Remote, run.Creds); err != nil {
		return nil, &StageError{Stage: StageEnsure, Code: types.ExitStorageError, Err: err}
	}
	pruner := storage.NewPruner(o.store, o.logger, run.DeleteRate, run.DeleteBurst)
	res, err := pruner.Apply(ctx, run.Target, storage.RetentionPolicy{Keep: run.Keep})
	if err != nil {
		return nil, &StageError{Stage: StagePrune, Code: types.ExitStorageError, Err: err}
	}
	return res, nil
}
