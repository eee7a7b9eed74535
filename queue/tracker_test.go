package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/internal/testutil"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/queue"
	"github.com/bucketfm/bucketfm/transfer"
)

type trackerFixture struct {
	fake    *testutil.FakeStore
	prog    progress.Store
	tracker *queue.Tracker
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	fake := testutil.NewFakeStore()
	store, err := progress.NewFileStore(memfs.New(), "progress")
	require.NoError(t, err)
	engine := transfer.New(fake, store, memfs.New(),
		transfer.WithChunkSize(4),
		transfer.WithResumableThreshold(8),
	)
	return &trackerFixture{
		fake:    fake,
		prog:    store,
		tracker: queue.NewTracker(engine, store),
	}
}

func TestTracker_ConcurrentDownloads(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	f.fake.Seed("a.bin", []byte("aaaaaaaaaa"), time.Unix(100, 0))
	f.fake.Seed("b.bin", []byte("bbbbbbbbbb"), time.Unix(100, 0))

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.tracker.Download(ctx, "a.bin", "a.bin", nil)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.tracker.Download(ctx, "b.bin", "b.bin", nil)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, []byte("aaaaaaaaaa"), results[0])
	assert.Equal(t, []byte("bbbbbbbbbb"), results[1])
}

func TestTracker_RefusesDuplicateActive(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	f.fake.Seed("a.bin", []byte("aaaaaaaaaa"), time.Unix(100, 0))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.RangeGetHook = func(int64, int64) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := f.tracker.Download(ctx, "a.bin", "a.bin", nil)
		errCh <- err
	}()
	<-entered

	id := progress.ForDownload(".", "a.bin")
	assert.True(t, f.tracker.Active(id))

	_, err := f.tracker.Download(ctx, "a.bin", "a.bin", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bfmerrors.ErrTransferActive)

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, f.tracker.Active(id))
}

func TestTracker_ResumableAndResume(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	data := []byte("aaaaaaaaaabbbbbbbbbb")
	f.fake.Seed("dir/a.bin", data, time.Unix(100, 0))

	var mu sync.Mutex
	failed := false
	f.fake.RangeGetHook = func(start, _ int64) error {
		mu.Lock()
		defer mu.Unlock()
		if start == 8 && !failed {
			failed = true
			return bfmerrors.NewError("rangeGet", bfmerrors.ErrNetwork)
		}
		return nil
	}

	_, err := f.tracker.Download(ctx, "dir/a.bin", "a.bin", nil)
	require.Error(t, err)

	id := progress.ForDownload("dir", "a.bin")
	resumable, err := f.tracker.Resumable()
	require.NoError(t, err)
	require.Contains(t, resumable, id)
	assert.Equal(t, int64(8), resumable[id].DownloadedSize)

	got, err := f.tracker.Resume(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The record is purged on completion.
	resumable, err = f.tracker.Resumable()
	require.NoError(t, err)
	assert.NotContains(t, resumable, id)
}

func TestTracker_ResumeUnknownIdentity(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.Resume(context.Background(), progress.Identity("nope"), nil)
	require.Error(t, err)
	assert.True(t, bfmerrors.IsNotFound(err))
}

func TestTracker_CancelPurgesRecord(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	f.fake.Seed("a.bin", []byte("aaaaaaaaaa"), time.Unix(100, 0))

	var mu sync.Mutex
	failed := false
	f.fake.RangeGetHook = func(start, _ int64) error {
		mu.Lock()
		defer mu.Unlock()
		if start == 8 && !failed {
			failed = true
			return bfmerrors.NewError("rangeGet", bfmerrors.ErrNetwork)
		}
		return nil
	}
	_, err := f.tracker.Download(ctx, "a.bin", "a.bin", nil)
	require.Error(t, err)

	id := progress.ForDownload(".", "a.bin")
	require.NoError(t, f.tracker.Cancel(id))

	resumable, err := f.tracker.Resumable()
	require.NoError(t, err)
	assert.Empty(t, resumable)
}
