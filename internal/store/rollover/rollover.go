// Package rollover implements store.Store as a set of file.FileStore
// instances, rolling to a new file when a size or resource-count
// threshold is exceeded.
package rollover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
	"github.com/fghso/camps-dct/internal/store/file"
)

// Config configures a rollover Store.
type Config struct {
	// BasePath is the path of the first file, e.g. "resources.csv".
	// Subsequent files are named "resources.csv.1", "resources.csv.2", ...
	BasePath string
	// Per-file config template; Path is overwritten per rolled file.
	FileConfig file.Config
	// MaxSizeBytes rolls to a new file once the active file's encoded
	// contents reach this many bytes. Zero disables the size check.
	MaxSizeBytes int64
	// MaxResources rolls to a new file once the active file holds this
	// many resources. Zero disables the count check.
	MaxResources int
}

// Store is a slice of file-backed stores, one per rolled-to file, with
// uniqueness enforced across their union.
type Store struct {
	mu        sync.Mutex
	cfg       Config
	stores    []*file.FileStore
	active    int
	maxSuffix int // highest "<base>.<N>" suffix discovered or created so far
}

var suffixPattern = regexp.MustCompile(`\.(\d+)$`)

// New discovers existing <base>, <base>.1, <base>.2, ... files and opens
// a file.FileStore per file found, or just <base> if none exist yet.
func New(cfg Config) (*Store, error) {
	paths, maxSuffix, err := discoverPaths(cfg.BasePath)
	if err != nil {
		return nil, err
	}

	rs := &Store{cfg: cfg, maxSuffix: maxSuffix}
	for _, p := range paths {
		fileCfg := cfg.FileConfig
		fileCfg.Path = p
		fs, err := file.New(fileCfg)
		if err != nil {
			return nil, fmt.Errorf("rollover: open %s: %w", p, err)
		}
		rs.stores = append(rs.stores, fs)
	}
	rs.active = len(rs.stores) - 1
	return rs, nil
}

// discoverPaths returns basePath plus every "<basePath>.<N>" sibling
// found on disk, ordered by N ascending, with basePath first, along with
// the highest N found (0 if none). Discovered suffixes need not be
// contiguous — a gap (e.g. base and base.2 exist but base.1 doesn't)
// must not cause a later roll to reuse an already-open suffix.
func discoverPaths(basePath string) ([]string, int, error) {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{basePath}, 0, nil
		}
		return nil, 0, fmt.Errorf("rollover: list %s: %w", dir, err)
	}

	type suffixed struct {
		n    int
		path string
	}
	var found []suffixed
	baseExists := false
	for _, e := range entries {
		name := e.Name()
		if name == base {
			baseExists = true
			continue
		}
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		m := suffixPattern.FindStringSubmatch(name[len(base):])
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, suffixed{n: n, path: filepath.Join(dir, name)})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	maxSuffix := 0
	for _, f := range found {
		if f.n > maxSuffix {
			maxSuffix = f.n
		}
	}

	paths := []string{basePath}
	if !baseExists && len(found) == 0 {
		return paths, maxSuffix, nil
	}
	for _, f := range found {
		paths = append(paths, f.path)
	}
	return paths, maxSuffix, nil
}

func nextSuffixPath(basePath string, suffix int) string {
	if suffix == 0 {
		return basePath
	}
	return fmt.Sprintf("%s.%d", basePath, suffix)
}

func (rs *Store) Setup(ctx context.Context) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, fs := range rs.stores {
		if err := fs.Setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (rs *Store) Select(ctx context.Context) (resource.Record, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, fs := range rs.stores {
		rec, err := fs.Select(ctx)
		if err != nil {
			return resource.Record{}, err
		}
		if rec.Key != nil {
			return resource.Record{Key: storeKey{store: i, key: rec.Key}, ID: rec.ID, Status: rec.Status, Info: rec.Info}, nil
		}
	}
	return resource.Record{}, nil
}

// storeKey composites the owning store's index with that store's own
// key, so Update can route to the right file.FileStore.
type storeKey struct {
	store int
	key   any
}

func (rs *Store) Update(ctx context.Context, key any, status resource.Status, info map[string]any) error {
	sk, ok := key.(storeKey)
	if !ok {
		return fmt.Errorf("rollover: update: invalid key %v", key)
	}

	rs.mu.Lock()
	fs := rs.stores[sk.store]
	rs.mu.Unlock()

	return fs.Update(ctx, sk.key, status, info)
}

func (rs *Store) Insert(ctx context.Context, resources []store.NewResource) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := rs.checkDuplicatesLocked(ctx, resources); err != nil {
		return err
	}

	merge := rs.cfg.FileConfig.Config.UniqueResourceID && rs.cfg.FileConfig.Config.OnDuplicateUpdate
	for _, r := range resources {
		owner := -1
		for i := 0; merge && owner < 0 && i < len(rs.stores); i++ {
			for _, existing := range rs.stores[i].Snapshot() {
				if existing.ID == r.ID {
					owner = i
				}
			}
		}
		if owner >= 0 {
			if err := rs.stores[owner].Insert(ctx, []store.NewResource{r}); err != nil {
				return err
			}
			continue
		}
		if err := rs.ensureCapacityLocked(); err != nil {
			return err
		}
		if err := rs.stores[rs.active].Insert(ctx, []store.NewResource{r}); err != nil {
			return err
		}
	}
	return nil
}

// checkDuplicatesLocked enforces uniqueness across the union of stores
// when the underlying file stores are configured with UniqueResourceID:
// a duplicate anywhere in the set is rejected before any resource in the
// batch is appended. With OnDuplicateUpdate set it rejects nothing, and
// Insert merges each duplicate into the store that already holds it.
func (rs *Store) checkDuplicatesLocked(ctx context.Context, resources []store.NewResource) error {
	if !rs.cfg.FileConfig.Config.UniqueResourceID {
		return nil
	}
	// Individual file stores already enforce this within themselves;
	// cross-file enforcement against every other store's snapshot keeps
	// the guarantee for the union as a whole.
	for _, r := range resources {
		for i, fs := range rs.stores {
			if i == rs.active {
				continue
			}
			for _, existing := range fs.Snapshot() {
				if existing.ID == r.ID && !rs.cfg.FileConfig.Config.OnDuplicateUpdate {
					return fmt.Errorf("%w: %v", store.ErrDuplicateResourceID, r.ID)
				}
			}
		}
	}
	return nil
}

// ensureCapacityLocked rolls to a new file if the active store has
// crossed either configured threshold.
func (rs *Store) ensureCapacityLocked() error {
	active := rs.stores[rs.active]
	snapshot := active.Snapshot()

	needsRoll := false
	if rs.cfg.MaxResources > 0 && len(snapshot) >= rs.cfg.MaxResources {
		needsRoll = true
	}
	if rs.cfg.MaxSizeBytes > 0 {
		body, err := rs.cfg.FileConfig.Format.Write(snapshot, rs.cfg.FileConfig.Schema)
		if err == nil && int64(len(body)) >= rs.cfg.MaxSizeBytes {
			needsRoll = true
		}
	}
	if !needsRoll {
		return nil
	}

	nextSuffix := rs.maxSuffix + 1
	newPath := nextSuffixPath(rs.cfg.BasePath, nextSuffix)
	fileCfg := rs.cfg.FileConfig
	fileCfg.Path = newPath
	fs, err := file.New(fileCfg)
	if err != nil {
		return fmt.Errorf("rollover: open new file %s: %w", newPath, err)
	}
	rs.stores = append(rs.stores, fs)
	rs.active = len(rs.stores) - 1
	rs.maxSuffix = nextSuffix
	return nil
}

func (rs *Store) Count(ctx context.Context) (resource.Counts, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var total resource.Counts
	for _, fs := range rs.stores {
		c, err := fs.Count(ctx)
		if err != nil {
			return resource.Counts{}, err
		}
		total.Total += c.Total
		total.Succeeded += c.Succeeded
		total.InProgress += c.InProgress
		total.Available += c.Available
		total.Failed += c.Failed
		total.Error += c.Error
	}
	return total, nil
}

func (rs *Store) Reset(ctx context.Context, status resource.Status) (int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	total := 0
	for _, fs := range rs.stores {
		n, err := fs.Reset(ctx, status)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (rs *Store) Finish(ctx context.Context) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, fs := range rs.stores {
		if err := fs.Finish(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (rs *Store) Shutdown(ctx context.Context) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var firstErr error
	for _, fs := range rs.stores {
		if err := fs.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ store.Store = (*Store)(nil)
