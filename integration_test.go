package bucketfm_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketfm/bucketfm"
	"github.com/bucketfm/bucketfm/internal/testutil"
	"github.com/bucketfm/bucketfm/objstore"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/queue"
)

const mib = 1024 * 1024

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// TestIntegration_UploadDownloadRoundTrip runs the full stack against
// LocalStack: enqueue a multipart-sized upload, wait for the queue to
// finish it, then download it back through the resumable path.
func TestIntegration_UploadDownloadRoundTrip(t *testing.T) {
	endpoint, cleanup := testutil.SetupLocalStack(t, "bucketfm-it")
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := memfs.New()
	prog, err := progress.NewFileStore(memfs.New(), "progress")
	require.NoError(t, err)

	m, err := bucketfm.New(ctx,
		bucketfm.WithStore(
			objstore.WithBucket("bucketfm-it"),
			objstore.WithRegion("us-east-1"),
			objstore.WithEndpoint(endpoint),
			objstore.WithForcePathStyle(true),
			objstore.WithStaticCredentials("test", "test", ""),
		),
		bucketfm.WithFilesystem(fs),
		bucketfm.WithProgressStore(prog),
	)
	require.NoError(t, err)

	data := pattern(12 * mib)
	require.NoError(t, util.WriteFile(fs, "/data/big.bin", data, 0o644))

	id, err := m.Upload("/data/big.bin", "uploads/big.bin")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		items := m.Items()
		for _, it := range items {
			if it.ID == id {
				return it.Status == queue.StatusCompleted
			}
		}
		// Completed items expire from the queue.
		return len(items) == 0
	}, 2*time.Minute, 100*time.Millisecond)

	meta, err := m.Stat(ctx, "uploads/big.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(12*mib), meta.Size)

	got, err := m.Download(ctx, "uploads/big.bin", "big.bin", nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

// TestIntegration_BrowseAndHousekeeping exercises the folder-style
// listing, copy, move, share, and delete surface against LocalStack.
func TestIntegration_BrowseAndHousekeeping(t *testing.T) {
	endpoint, cleanup := testutil.SetupLocalStack(t, "bucketfm-it2")
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := memfs.New()
	prog, err := progress.NewFileStore(memfs.New(), "progress")
	require.NoError(t, err)

	m, err := bucketfm.New(ctx,
		bucketfm.WithStore(
			objstore.WithBucket("bucketfm-it2"),
			objstore.WithRegion("us-east-1"),
			objstore.WithEndpoint(endpoint),
			objstore.WithForcePathStyle(true),
			objstore.WithStaticCredentials("test", "test", ""),
		),
		bucketfm.WithFilesystem(fs),
		bucketfm.WithProgressStore(prog),
	)
	require.NoError(t, err)

	// Small files go through the single-shot path.
	require.NoError(t, util.WriteFile(fs, "/data/a.txt", []byte("alpha"), 0o644))
	require.NoError(t, util.WriteFile(fs, "/data/b.txt", []byte("beta"), 0o644))
	ids, err := m.UploadAll([]queue.Request{
		{LocalPath: "/data/a.txt", DestKey: "docs/a.txt"},
		{LocalPath: "/data/b.txt", DestKey: "docs/nested/b.txt"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.Eventually(t, func() bool {
		return len(m.Items()) == 0
	}, time.Minute, 100*time.Millisecond)

	listing, err := m.Browse(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "docs/a.txt", listing.Entries[0].Key)
	assert.Equal(t, []string{"docs/nested/"}, listing.Prefixes)

	url, err := m.ShareURL(ctx, "docs/a.txt", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "docs/a.txt")

	require.NoError(t, m.Move(ctx, "docs/a.txt", "archive/a.txt"))
	_, err = m.Stat(ctx, "docs/a.txt")
	require.Error(t, err)
	meta, err := m.Stat(ctx, "archive/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)

	deleted, err := m.DeleteFolder(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
