package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu        sync.Mutex
	objects   map[string]int64
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func newFakeRemote(names ...string) *fakeRemote {
	f := &fakeRemote{objects: make(map[string]int64), deleteErr: make(map[string]error)}
	for _, n := range names {
		f.objects[n] = 1
	}
	return f
}

func (f *fakeRemote) EnsureRemote(context.Context, string, Credentials) error { return nil }

func (f *fakeRemote) Upload(context.Context, string, RemoteTarget) error { return nil }

func (f *fakeRemote) List(context.Context, RemoteTarget) ([]RemoteObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]RemoteObject, 0, len(f.objects))
	for n, size := range f.objects {
		out = append(out, RemoteObject{Name: n, Size: size})
	}
	sortObjects(out)
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, _ RemoteTarget, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	delete(f.objects, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRemote) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for n := range f.objects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func archiveNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("pve-202501%02dT000000Z.tar.gz", i+1)
	}
	return names
}

func TestPlanPruneCounts(t *testing.T) {
	for total := 0; total <= 6; total++ {
		for keep := -1; keep <= 7; keep++ {
			names := archiveNames(total)
			plan := PlanPrune(names, keep)

			effective := keep
			if effective < 0 {
				effective = 0
			}
			want := total - effective
			if want < 0 {
				want = 0
			}
			require.Len(t, plan, want, "total=%d keep=%d", total, keep)
			if want > 0 {
				assert.Equal(t, names[:want], plan, "total=%d keep=%d", total, keep)
			}
		}
	}
}

func TestPlanPruneMixedPrefixes(t *testing.T) {
	names := []string{
		"b-20250104T000000Z.tar.gz",
		"a-20250101T000000Z.tar.gz",
		"b-20250102T000000Z.tar.gz",
		"a-20250103T000000Z.tar.gz",
	}
	plan := PlanPrune(names, 2)
	assert.Equal(t, []string{"a-20250101T000000Z.tar.gz", "b-20250102T000000Z.tar.gz"}, plan)
	// input untouched
	assert.Equal(t, "b-20250104T000000Z.tar.gz", names[0])
}

func TestPlanPruneUnparsableNamesGoFirst(t *testing.T) {
	names := []string{"pve-20250101T000000Z.tar.gz", "manual.tar.gz", "pve-20250102T000000Z.tar.gz"}
	assert.Equal(t, []string{"manual.tar.gz"}, PlanPrune(names, 2))
}

func TestPrunerKeepsNewestAndRemovesSidecars(t *testing.T) {
	names := archiveNames(5)
	remote := newFakeRemote(names...)
	for _, n := range names {
		remote.objects[n+ChecksumSuffix] = 1
	}

	pruner := NewPruner(remote, newTestLogger(), 0, 0)
	res, err := pruner.Apply(context.Background(), testTarget, RetentionPolicy{Keep: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Listed)
	assert.Equal(t, names[:3], res.Deleted)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Remaining())

	assert.Equal(t, []string{
		names[3], names[3] + ChecksumSuffix,
		names[4], names[4] + ChecksumSuffix,
	}, remote.names())
}

func TestPrunerWithinLimit(t *testing.T) {
	remote := newFakeRemote(archiveNames(3)...)
	res, err := NewPruner(remote, newTestLogger(), 0, 0).Apply(context.Background(), testTarget, RetentionPolicy{Keep: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Planned)
	assert.Empty(t, remote.deleted)
}

func TestPrunerCollectsDeleteFailures(t *testing.T) {
	names := archiveNames(4)
	remote := newFakeRemote(names...)
	remote.deleteErr[names[1]] = errors.New("403 forbidden")

	res, err := NewPruner(remote, newTestLogger(), 1000, 10).Apply(context.Background(), testTarget, RetentionPolicy{Keep: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{names[0], names[2]}, res.Deleted)
	require.Contains(t, res.Failed, names[1])
	assert.Equal(t, 2, res.Remaining())

	// the next pass only has the survivor of the failure left to retry
	delete(remote.deleteErr, names[1])
	res, err = NewPruner(remote, newTestLogger(), 0, 0).Apply(context.Background(), testTarget, RetentionPolicy{Keep: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{names[1]}, res.Deleted)
	assert.Equal(t, []string{names[3]}, remote.names())
}

func TestPrunerListFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = errors.New("boom")
	_, err := NewPruner(remote, newTestLogger(), 0, 0).Apply(context.Background(), testTarget, RetentionPolicy{Keep: 1})
	require.Error(t, err)
}

func TestPrunerCancelledContext(t *testing.T) {
	remote := newFakeRemote(archiveNames(3)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewPruner(remote, newTestLogger(), 1, 1).Apply(ctx, testTarget, RetentionPolicy{Keep: 0})
	require.NoError(t, err)
	assert.Len(t, res.Failed, 3)
	assert.Len(t, remote.names(), 3)
}
