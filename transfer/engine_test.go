package transfer_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/internal/testutil"
	"github.com/bucketfm/bucketfm/objstore"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/transfer"
)

const mib = 1024 * 1024

// pattern produces deterministic non-repeating content so reassembly bugs
// show up as byte mismatches.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

type fixture struct {
	fake   *testutil.FakeStore
	prog   progress.Store
	fs     billy.Filesystem
	engine *transfer.Engine
}

func newFixture(t *testing.T, opts ...transfer.Option) *fixture {
	t.Helper()
	fake := testutil.NewFakeStore()
	store, err := progress.NewFileStore(memfs.New(), "progress")
	require.NoError(t, err)
	fs := memfs.New()
	return &fixture{
		fake:   fake,
		prog:   store,
		fs:     fs,
		engine: transfer.New(fake, store, fs, opts...),
	}
}

// freshEngine simulates a process restart: a new engine over the same
// durable stores.
func (f *fixture) freshEngine(opts ...transfer.Option) *transfer.Engine {
	return transfer.New(f.fake, f.prog, f.fs, opts...)
}

// writeLocal creates a local file and returns its transfer identity.
func (f *fixture) writeLocal(t *testing.T, path string, data []byte) progress.Identity {
	t.Helper()
	require.NoError(t, util.WriteFile(f.fs, path, data, 0o644))
	fi, err := f.fs.Stat(path)
	require.NoError(t, err)
	return progress.ForUpload(filepath.Dir(path), fi.Name(), fi.Size(), fi.ModTime())
}

func partNumbers(calls []testutil.PartCall) []int32 {
	nums := make([]int32, 0, len(calls))
	for _, c := range calls {
		nums = append(nums, c.PartNumber)
	}
	return nums
}

func TestUpload_SixPartScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := pattern(27 * mib)
	f.writeLocal(t, "/data/big.bin", data)

	var reported []int64
	err := f.engine.Upload(ctx, "/data/big.bin", "backup/big.bin", func(transferred, total int64) {
		assert.Equal(t, int64(27*mib), total)
		reported = append(reported, transferred)
	})
	require.NoError(t, err)

	// Six sequential parts, the last one 2 MiB.
	calls := f.fake.Parts()
	require.Len(t, calls, 6)
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, partNumbers(calls))
	for _, c := range calls[:5] {
		assert.Equal(t, int64(5*mib), c.Size)
	}
	assert.Equal(t, int64(2*mib), calls[5].Size)

	// One completion with six manifest entries sorted ascending.
	manifests := f.fake.Manifests()
	require.Len(t, manifests, 1)
	require.Len(t, manifests[0], 6)
	for i, p := range manifests[0] {
		assert.Equal(t, int32(i+1), p.PartNumber)
		assert.NotEmpty(t, p.ETag)
	}

	// Progress was reported once per part, cumulatively.
	assert.Equal(t, []int64{5 * mib, 10 * mib, 15 * mib, 20 * mib, 25 * mib, 27 * mib}, reported)

	stored, ok := f.fake.Object("backup/big.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.Equal(t, 0, f.fake.SessionCount())
}

func TestUpload_ResumesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := pattern(27 * mib)
	id := f.writeLocal(t, "/data/big.bin", data)

	var mu sync.Mutex
	failed := false
	f.fake.UploadPartHook = func(part int32) error {
		mu.Lock()
		defer mu.Unlock()
		if part == 4 && !failed {
			failed = true
			return bfmerrors.NewError("uploadPart", bfmerrors.ErrNetwork)
		}
		return nil
	}

	err := f.engine.Upload(ctx, "/data/big.bin", "backup/big.bin", nil)
	require.Error(t, err)
	assert.True(t, bfmerrors.IsNetwork(err))

	// The record holds exactly the acknowledged parts.
	rec, err := f.prog.LoadUpload(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []int32{1, 2, 3}, rec.PartNumbers())
	assert.Equal(t, int64(15*mib), rec.UploadedSize)

	// Re-invoking uploads only the remaining parts.
	err = f.engine.Upload(ctx, "/data/big.bin", "backup/big.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, partNumbers(f.fake.Parts()))

	stored, ok := f.fake.Object("backup/big.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)

	// The record is purged on completion.
	rec, err = f.prog.LoadUpload(id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpload_PauseThenFreshEngineResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := pattern(27 * mib)
	id := f.writeLocal(t, "/data/big.bin", data)

	var once sync.Once
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.engine.Upload(ctx, "/data/big.bin", "backup/big.bin", func(transferred, _ int64) {
			if transferred == 15*mib {
				once.Do(func() { f.engine.Pause(id) })
			}
		})
	}()

	require.Eventually(t, func() bool {
		return f.engine.Paused(id)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, f.fake.Parts(), 3)

	// Simulate a crash while paused: cancel the blocked invocation and
	// resume on a fresh engine over the same durable store.
	f.engine.Cancel(id)
	err := <-errCh
	require.Error(t, err)
	assert.True(t, bfmerrors.IsCancelled(err))

	restarted := f.freshEngine()
	require.NoError(t, restarted.Upload(ctx, "/data/big.bin", "backup/big.bin", nil))

	// Only parts 4, 5, 6 were uploaded after the restart.
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, partNumbers(f.fake.Parts()))
	stored, ok := f.fake.Object("backup/big.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestUpload_CancelKeepsProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.writeLocal(t, "/data/big.bin", pattern(27*mib))

	var once sync.Once
	err := f.engine.Upload(ctx, "/data/big.bin", "backup/big.bin", func(transferred, _ int64) {
		if transferred == 10*mib {
			once.Do(func() { f.engine.Cancel(id) })
		}
	})
	require.Error(t, err)
	assert.True(t, bfmerrors.IsCancelled(err))

	rec, err := f.prog.LoadUpload(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []int32{1, 2}, rec.PartNumbers())
}

func TestUpload_IdentityInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeLocal(t, "/data/file.bin", pattern(12*mib))

	var mu sync.Mutex
	failed := false
	f.fake.UploadPartHook = func(part int32) error {
		mu.Lock()
		defer mu.Unlock()
		if part == 2 && !failed {
			failed = true
			return bfmerrors.NewError("uploadPart", bfmerrors.ErrNetwork)
		}
		return nil
	}
	require.Error(t, f.engine.Upload(ctx, "/data/file.bin", "file.bin", nil))

	// Changing the file's size changes its identity; the next upload
	// starts from scratch instead of reusing the stale parts.
	grown := pattern(12*mib + 1)
	f.writeLocal(t, "/data/file.bin", grown)
	require.NoError(t, f.engine.Upload(ctx, "/data/file.bin", "file.bin", nil))

	nums := partNumbers(f.fake.Parts())
	assert.Equal(t, []int32{1, 1, 2, 3}, nums)

	stored, ok := f.fake.Object("file.bin")
	require.True(t, ok)
	assert.Equal(t, grown, stored)
}

func TestUpload_ThresholdBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.writeLocal(t, "/data/under.bin", pattern(10*mib-1))
	err := f.engine.Upload(ctx, "/data/under.bin", "under.bin", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bfmerrors.ErrTooSmallForResumable)

	f.writeLocal(t, "/data/at.bin", pattern(10*mib))
	require.NoError(t, f.engine.Upload(ctx, "/data/at.bin", "at.bin", nil))
	assert.Equal(t, []int32{1, 2}, partNumbers(f.fake.Parts()))
}

func TestUpload_RefusesDuplicateActiveIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeLocal(t, "/data/big.bin", pattern(12*mib))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.UploadPartHook = func(int32) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.engine.Upload(ctx, "/data/big.bin", "big.bin", nil)
	}()
	<-entered

	err := f.engine.Upload(ctx, "/data/big.bin", "big.bin", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bfmerrors.ErrTransferActive)

	close(release)
	require.NoError(t, <-errCh)
}

func TestAbortUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.writeLocal(t, "/data/big.bin", pattern(12*mib))

	var mu sync.Mutex
	failed := false
	f.fake.UploadPartHook = func(part int32) error {
		mu.Lock()
		defer mu.Unlock()
		if part == 2 && !failed {
			failed = true
			return bfmerrors.NewError("uploadPart", bfmerrors.ErrNetwork)
		}
		return nil
	}
	require.Error(t, f.engine.Upload(ctx, "/data/big.bin", "big.bin", nil))
	require.Equal(t, 1, f.fake.SessionCount())

	require.NoError(t, f.engine.AbortUpload(ctx, id))

	assert.Equal(t, 0, f.fake.SessionCount())
	assert.Len(t, f.fake.Aborted(), 1)
	rec, err := f.prog.LoadUpload(id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDownload_ThreeRangeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := pattern(12 * mib)
	f.fake.Seed("videos/clip.mp4", data, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	var reported []int64
	got, err := f.engine.Download(ctx, "videos/clip.mp4", "clip.mp4", func(transferred, total int64) {
		assert.Equal(t, int64(12*mib), total)
		reported = append(reported, transferred)
	})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Exactly three ranges with exact inclusive bounds.
	assert.Equal(t, []testutil.RangeCall{
		{Key: "videos/clip.mp4", Start: 0, End: 5242879},
		{Key: "videos/clip.mp4", Start: 5242880, End: 10485759},
		{Key: "videos/clip.mp4", Start: 10485760, End: 12582911},
	}, f.fake.Ranges())

	assert.Equal(t, []int64{5242880, 10485760, 12582912}, reported)
}

func TestDownload_ResumesAcrossInvocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := pattern(12 * mib)
	mod := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	f.fake.Seed("videos/clip.mp4", data, mod)
	id := progress.ForDownload("videos", "clip.mp4")

	var mu sync.Mutex
	failed := false
	f.fake.RangeGetHook = func(start, _ int64) error {
		mu.Lock()
		defer mu.Unlock()
		if start == 5242880 && !failed {
			failed = true
			return bfmerrors.NewError("rangeGet", bfmerrors.ErrNetwork)
		}
		return nil
	}

	_, err := f.engine.Download(ctx, "videos/clip.mp4", "clip.mp4", nil)
	require.Error(t, err)
	assert.True(t, bfmerrors.IsNetwork(err))

	rec, err := f.prog.LoadDownload(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(5242880), rec.DownloadedSize)

	// The second invocation fetches the two missing ranges, then
	// re-fetches the first range to assemble the full object.
	got, err := f.freshEngine().Download(ctx, "videos/clip.mp4", "clip.mp4", nil)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	starts := []int64{}
	for _, c := range f.fake.Ranges() {
		starts = append(starts, c.Start)
	}
	assert.Equal(t, []int64{0, 5242880, 10485760, 0}, starts)

	rec, err = f.prog.LoadDownload(id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDownload_StaleRecordDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.Seed("file.bin", pattern(12*mib), time.Unix(100, 0))
	id := progress.ForDownload(".", "file.bin")

	var mu sync.Mutex
	failed := false
	f.fake.RangeGetHook = func(start, _ int64) error {
		mu.Lock()
		defer mu.Unlock()
		if start == 5242880 && !failed {
			failed = true
			return bfmerrors.NewError("rangeGet", bfmerrors.ErrNetwork)
		}
		return nil
	}
	_, err := f.engine.Download(ctx, "file.bin", "file.bin", nil)
	require.Error(t, err)

	// The remote object changes; the persisted ranges are void.
	fresh := pattern(13 * mib)
	f.fake.Seed("file.bin", fresh, time.Unix(200, 0))

	got, err := f.engine.Download(ctx, "file.bin", "file.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	rec, err := f.prog.LoadDownload(id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDownload_ThresholdBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.Seed("small.bin", pattern(10*mib-1), time.Now())
	_, err := f.engine.Download(ctx, "small.bin", "small.bin", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bfmerrors.ErrTooSmallForResumable)

	f.fake.Seed("exact.bin", pattern(10*mib), time.Now())
	got, err := f.engine.Download(ctx, "exact.bin", "exact.bin", nil)
	require.NoError(t, err)
	assert.Len(t, got, 10*mib)
}

func TestDownload_MissingObject(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Download(context.Background(), "nope.bin", "nope.bin", nil)
	require.Error(t, err)
	assert.True(t, bfmerrors.IsNotFound(err))
}

func TestCompletion_SecondCallHarmless(t *testing.T) {
	// The store rejects completing an already closed session without
	// touching the stored object; resumption relies on that.
	fake := testutil.NewFakeStore()
	ctx := context.Background()

	sid, err := fake.InitMultipart(ctx, "obj.bin", "")
	require.NoError(t, err)
	etag, err := fake.UploadPart(ctx, sid, "obj.bin", 1, []byte("hello"))
	require.NoError(t, err)

	manifest := []objstore.CompletedPart{{PartNumber: 1, ETag: etag}}
	require.NoError(t, fake.CompleteMultipart(ctx, sid, "obj.bin", manifest))

	before, ok := fake.Object("obj.bin")
	require.True(t, ok)

	err = fake.CompleteMultipart(ctx, sid, "obj.bin", manifest)
	require.Error(t, err)

	after, ok := fake.Object("obj.bin")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestEngine_CustomChunkSize(t *testing.T) {
	f := newFixture(t, transfer.WithChunkSize(4), transfer.WithResumableThreshold(8))
	ctx := context.Background()
	data := []byte("0123456789")
	f.writeLocal(t, "/data/tiny.bin", data)

	require.NoError(t, f.engine.Upload(ctx, "/data/tiny.bin", "tiny.bin", nil))
	calls := f.fake.Parts()
	require.Len(t, calls, 3)
	assert.Equal(t, int64(4), calls[0].Size)
	assert.Equal(t, int64(2), calls[2].Size)

	stored, ok := f.fake.Object("tiny.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)
}
