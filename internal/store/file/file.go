// Package file implements store.Store over the in-memory store plus a
// durable on-disk mirror: a timer-driven dump to CSV or JSON, and an
// abort-on-failure fail-fast guard when a dump can't be written.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
	"github.com/fghso/camps-dct/internal/store/memory"
)

// Config configures a FileStore's on-disk mirror.
type Config struct {
	memory.Config

	Path          string
	Format        Format // if nil, inferred from Path's extension
	Schema        ColumnSchema
	SaveTimeDelta time.Duration // interval between dumps; <=0 disables the timer
	Logger        *zap.Logger
}

// FileStore is a memory.Store whose contents are loaded from, and
// periodically dumped back to, a file on disk.
type FileStore struct {
	*memory.Store

	cfg    Config
	format Format
	schema ColumnSchema
	logger *zap.Logger

	dumpMu   sync.Mutex
	aborted  atomic.Bool
	dumpOnce sync.Once

	scheduler gocron.Scheduler
	job       gocron.Job
}

// New loads the file at cfg.Path (if it exists) and returns a ready
// FileStore. It does not start the dump timer — call Setup for that, so
// the timer's lifetime matches the store's owning connection/process.
func New(cfg Config) (*FileStore, error) {
	format := cfg.Format
	if format == nil {
		f, err := formatForPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	if cfg.Schema.IDColumn == "" {
		cfg.Schema.IDColumn = "id"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fs := &FileStore{
		Store:  memory.New(cfg.Config),
		cfg:    cfg,
		format: format,
		schema: cfg.Schema,
		logger: logger.Named("filestore"),
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("file: read %s: %w", cfg.Path, err)
		}
	} else {
		records, schema, err := format.Read(data, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("file: load %s: %w", cfg.Path, err)
		}
		fs.schema = schema
		if err := fs.Store.Seed(records); err != nil {
			return nil, fmt.Errorf("file: load %s: %w", cfg.Path, err)
		}
	}

	return fs, nil
}

func formatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSVFormat{}, nil
	case ".json":
		return JSONFormat{}, nil
	default:
		return nil, fmt.Errorf("file: cannot infer format from file name %q, no matching extension", path)
	}
}

// Setup arms the periodic dump timer. Per-connection, but the timer
// itself is process-wide — only the first caller's Setup actually starts
// it, since the store instance is shared across every connection.
func (fs *FileStore) Setup(ctx context.Context) error {
	if fs.cfg.SaveTimeDelta <= 0 {
		return nil
	}

	var startErr error
	fs.dumpOnce.Do(func() {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			startErr = fmt.Errorf("file: create scheduler: %w", err)
			return
		}
		job, err := scheduler.NewJob(
			gocron.DurationJob(fs.cfg.SaveTimeDelta),
			gocron.NewTask(func() {
				if err := fs.dump(); err != nil {
					fs.logger.Error("durable dump failed, aborting store", zap.Error(err))
					fs.aborted.Store(true)
				}
			}),
		)
		if err != nil {
			startErr = fmt.Errorf("file: schedule dump job: %w", err)
			return
		}
		fs.scheduler = scheduler
		fs.job = job
		scheduler.Start()
	})
	return startErr
}

func (fs *FileStore) checkAborted() error {
	if fs.aborted.Load() {
		return store.ErrAborted
	}
	return nil
}

func (fs *FileStore) Select(ctx context.Context) (resource.Record, error) {
	if err := fs.checkAborted(); err != nil {
		return resource.Record{}, err
	}
	return fs.Store.Select(ctx)
}

func (fs *FileStore) Update(ctx context.Context, key any, status resource.Status, info map[string]any) error {
	if err := fs.checkAborted(); err != nil {
		return err
	}
	return fs.Store.Update(ctx, key, status, info)
}

func (fs *FileStore) Insert(ctx context.Context, resources []store.NewResource) error {
	if err := fs.checkAborted(); err != nil {
		return err
	}
	return fs.Store.Insert(ctx, resources)
}

func (fs *FileStore) Count(ctx context.Context) (resource.Counts, error) {
	if err := fs.checkAborted(); err != nil {
		return resource.Counts{}, err
	}
	return fs.Store.Count(ctx)
}

func (fs *FileStore) Reset(ctx context.Context, status resource.Status) (int, error) {
	if err := fs.checkAborted(); err != nil {
		return 0, err
	}
	return fs.Store.Reset(ctx, status)
}

// dump serializes the current inventory and atomically replaces the
// live file with it: write to a temp file in the same directory, then
// rename over the target, so a crash mid-write never corrupts the live
// copy.
func (fs *FileStore) dump() error {
	fs.dumpMu.Lock()
	defer fs.dumpMu.Unlock()

	body, err := fs.format.Write(fs.Store.Snapshot(), fs.schema)
	if err != nil {
		return fmt.Errorf("file: encode dump: %w", err)
	}

	dir := filepath.Dir(fs.cfg.Path)
	tmp, err := os.CreateTemp(dir, ".dump-*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp dump file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write temp dump file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close temp dump file: %w", err)
	}
	if err := os.Rename(tmpName, fs.cfg.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: rename temp dump file over %s: %w", fs.cfg.Path, err)
	}
	return nil
}

// Shutdown cancels the dump timer and performs one final dump.
func (fs *FileStore) Shutdown(ctx context.Context) error {
	if fs.scheduler != nil {
		if err := fs.scheduler.Shutdown(); err != nil {
			fs.logger.Warn("dump scheduler shutdown returned an error", zap.Error(err))
		}
	}
	if err := fs.checkAborted(); err != nil {
		return err
	}
	return fs.dump()
}

var _ store.Store = (*FileStore)(nil)
