package bucketfm

import (
	"github.com/go-git/go-billy/v5"

	"github.com/bucketfm/bucketfm/objstore"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/queue"
	"github.com/bucketfm/bucketfm/transfer"
)

// config collects the settings New assembles a Manager from.
type config struct {
	storeOpts  []objstore.Option
	engineOpts []transfer.Option
	queueOpts  []queue.CoordinatorOption
	fs         billy.Filesystem
	prog       progress.Store
}

// Option configures a Manager.
type Option func(*config)

// WithStore forwards options to the object store client, such as
// objstore.WithBucket and objstore.WithRegion.
func WithStore(opts ...objstore.Option) Option {
	return func(c *config) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

// WithEngine forwards options to the transfer engine, such as
// transfer.WithChunkSize.
func WithEngine(opts ...transfer.Option) Option {
	return func(c *config) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// WithQueue forwards options to the upload queue, such as
// queue.WithNotify.
func WithQueue(opts ...queue.CoordinatorOption) Option {
	return func(c *config) {
		c.queueOpts = append(c.queueOpts, opts...)
	}
}

// WithFilesystem overrides the filesystem local files are read from.
// Defaults to the OS filesystem.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(c *config) {
		c.fs = fs
	}
}

// WithProgressStore overrides where transfer progress is persisted.
// Defaults to a JSON store under the platform data directory.
func WithProgressStore(store progress.Store) Option {
	return func(c *config) {
		c.prog = store
	}
}
