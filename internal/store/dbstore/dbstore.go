// Package dbstore implements store.Store over a SQL table, with a
// bounded prefetch queue fed by a dedicated fetcher goroutine so Select
// rarely blocks on a query.
package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
)

// Driver selects the database/sql driver name dbstore registers itself
// against.
type Driver string

const (
	DriverPostgres Driver = "pgx"
	DriverSQLite   Driver = "sqlite"
)

// Config configures a dbstore Store.
type Config struct {
	Driver Driver
	DSN    string

	Table          string
	PKColumn       string
	IDColumn       string
	StatusColumn   string
	InfoColumns    []string // discovered by New if empty

	UniqueResourceID  bool
	OnDuplicateUpdate bool

	// SelectCacheSize bounds the fetcher's prefetch queue and the size of
	// each batch SELECT it issues.
	SelectCacheSize int

	Logger *zap.Logger
}

// Store is a SQL-table-backed inventory with a background fetcher
// goroutine that keeps a bounded queue of available primary keys
// topped up, so Select rarely blocks on a query.
type Store struct {
	cfg    Config
	logger *zap.Logger

	db *sql.DB

	queue    chan any
	fetchErr chan error
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	aborted bool
}

// New opens the database connection pool, discovers the info columns if
// not already configured, and starts the prefetch fetcher goroutine.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.SelectCacheSize <= 0 {
		cfg.SelectCacheSize = 64
	}
	if cfg.PKColumn == "" {
		cfg.PKColumn = "resources_pk"
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = "resource_id"
	}
	if cfg.StatusColumn == "" {
		cfg.StatusColumn = "status"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open(driverName(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbstore: ping: %w", err)
	}

	s := &Store{
		cfg:      cfg,
		logger:   logger.Named("dbstore"),
		db:       db,
		queue:    make(chan any, cfg.SelectCacheSize),
		fetchErr: make(chan error, 1),
	}

	if len(s.cfg.InfoColumns) == 0 {
		cols, err := s.discoverInfoColumns(ctx)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.cfg.InfoColumns = cols
	}

	fetchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.fetchLoop(fetchCtx)

	return s, nil
}

func driverName(d Driver) string {
	switch d {
	case DriverPostgres:
		return "pgx"
	case DriverSQLite:
		return "sqlite"
	default:
		return string(d)
	}
}

// discoverInfoColumns runs a zero-row SELECT * to enumerate every column
// that isn't the primary key, id, or status column.
func (s *Store) discoverInfoColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", s.cfg.Table))
	if err != nil {
		return nil, fmt.Errorf("dbstore: discover columns: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbstore: discover columns: %w", err)
	}

	var info []string
	for _, name := range names {
		if name == s.cfg.PKColumn || name == s.cfg.IDColumn || name == s.cfg.StatusColumn {
			continue
		}
		info = append(info, name)
	}
	return info, nil
}

// fetchIdleInterval is how long fetchLoop waits before re-querying after
// a batch SELECT comes back empty. A table with nothing AVAILABLE yet is
// an ordinary startup state — rows may still arrive later via Insert or
// Reset — so the fetcher backs off and retries instead of exiting.
const fetchIdleInterval = 200 * time.Millisecond

// fetchLoop is the dedicated fetcher goroutine: it waits for the queue
// to drain, issues one batch SELECT of available primary keys ordered
// by primary key, and pushes each into the queue. It only ever exits on
// context cancellation or a genuine query/scan error — an empty result
// just means "nothing AVAILABLE right now", so it backs off and retries
// rather than terminating, so it's still around to serve rows that a
// later Insert or Reset creates.
func (s *Store) fetchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.drainedSignal(ctx):
		}

		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s = %d ORDER BY %s LIMIT %d",
			s.cfg.PKColumn, s.cfg.Table, s.cfg.StatusColumn, int(resource.Available), s.cfg.PKColumn, s.cfg.SelectCacheSize,
		)
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			select {
			case s.fetchErr <- fmt.Errorf("dbstore: fetch available keys: %w", err):
			default:
			}
			return
		}

		var keys []any
		for rows.Next() {
			var pk any
			if err := rows.Scan(&pk); err != nil {
				rows.Close()
				select {
				case s.fetchErr <- fmt.Errorf("dbstore: scan key: %w", err):
				default:
				}
				return
			}
			keys = append(keys, pk)
		}
		rows.Close()

		if len(keys) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchIdleInterval):
			}
			continue
		}
		for _, k := range keys {
			select {
			case s.queue <- k:
			case <-ctx.Done():
				return
			}
		}
	}
}

// drainedSignal fires once the queue is empty, so the fetcher only
// issues a new batch query once the prior batch has been fully consumed.
func (s *Store) drainedSignal(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			if len(s.queue) == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

func (s *Store) checkAborted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return store.ErrAborted
	}
	return nil
}

// Setup opens a dedicated connection for this handler goroutine. With
// database/sql's pool, that's simply verifying the pool is reachable —
// the pool itself hands out connections per query.
func (s *Store) Setup(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Finish(ctx context.Context) error { return nil }

// Select consumes one primary key from the prefetch queue, transitions
// it to IN_PROGRESS, and returns the full row. It does not block waiting
// for the fetcher to refill the queue: if nothing is queued right now it
// returns a zero Record with a nil Key, same as every other backend.
func (s *Store) Select(ctx context.Context) (resource.Record, error) {
	if err := s.checkAborted(); err != nil {
		return resource.Record{}, err
	}

	var pk any
	select {
	case pk = <-s.queue:
	case err := <-s.fetchErr:
		s.mu.Lock()
		s.aborted = true
		s.mu.Unlock()
		return resource.Record{}, fmt.Errorf("%w: %v", store.ErrAborted, err)
	case <-ctx.Done():
		return resource.Record{}, ctx.Err()
	default:
		return resource.Record{}, nil
	}

	updateQuery := fmt.Sprintf("UPDATE %s SET %s = %d WHERE %s = %s", s.cfg.Table, s.cfg.StatusColumn, int(resource.InProgress), s.cfg.PKColumn, placeholder(s.cfg.Driver, 1))
	if _, err := s.db.ExecContext(ctx, updateQuery, pk); err != nil {
		return resource.Record{}, fmt.Errorf("dbstore: select: lease update: %w", err)
	}

	columns := append([]string{s.cfg.IDColumn}, s.cfg.InfoColumns...)
	selectQuery := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", strings.Join(columns, ", "), s.cfg.Table, s.cfg.PKColumn, placeholder(s.cfg.Driver, 1))
	row := s.db.QueryRowContext(ctx, selectQuery, pk)

	scanTargets := make([]any, len(columns))
	values := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := row.Scan(scanTargets...); err != nil {
		return resource.Record{}, fmt.Errorf("dbstore: select: fetch row: %w", err)
	}

	info := make(map[string]any, len(s.cfg.InfoColumns))
	for i, col := range s.cfg.InfoColumns {
		info[col] = values[i+1]
	}

	return resource.Record{Key: pk, ID: values[0], Status: resource.InProgress, Info: info}, nil
}

func (s *Store) Update(ctx context.Context, key any, status resource.Status, info map[string]any) error {
	if err := s.checkAborted(); err != nil {
		return err
	}

	if len(info) == 0 {
		query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s", s.cfg.Table, s.cfg.StatusColumn, placeholder(s.cfg.Driver, 1), s.cfg.PKColumn, placeholder(s.cfg.Driver, 2))
		_, err := s.db.ExecContext(ctx, query, int(status), key)
		return err
	}

	var setClauses []string
	args := []any{int(status)}
	n := 2
	for col, val := range info {
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", col, placeholder(s.cfg.Driver, n)))
		args = append(args, val)
		n++
	}
	args = append(args, key)

	query := fmt.Sprintf("UPDATE %s SET %s = %s, %s WHERE %s = %s",
		s.cfg.Table, s.cfg.StatusColumn, placeholder(s.cfg.Driver, 1), strings.Join(setClauses, ", "), s.cfg.PKColumn, placeholder(s.cfg.Driver, n))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) Insert(ctx context.Context, resources []store.NewResource) error {
	if err := s.checkAborted(); err != nil {
		return err
	}
	if len(resources) == 0 {
		return nil
	}

	infoCols := s.cfg.InfoColumns
	columns := append([]string{s.cfg.IDColumn}, infoCols...)

	var placeholders []string
	var args []any
	n := 1
	for _, r := range resources {
		row := make([]string, len(columns))
		row[0] = placeholder(s.cfg.Driver, n)
		args = append(args, r.ID)
		n++
		for i, col := range infoCols {
			row[i+1] = placeholder(s.cfg.Driver, n)
			args = append(args, r.Info[col])
			n++
		}
		placeholders = append(placeholders, "("+strings.Join(row, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.cfg.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if s.cfg.OnDuplicateUpdate {
		var updates []string
		for _, col := range infoCols {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
		query += " ON CONFLICT (" + s.cfg.IDColumn + ") DO UPDATE SET " + strings.Join(updates, ", ")
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil && !s.cfg.OnDuplicateUpdate && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicateResourceID, err)
	}
	return err
}

func (s *Store) Count(ctx context.Context) (resource.Counts, error) {
	if err := s.checkAborted(); err != nil {
		return resource.Counts{}, err
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s", s.cfg.StatusColumn, s.cfg.Table, s.cfg.StatusColumn)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return resource.Counts{}, fmt.Errorf("dbstore: count: %w", err)
	}
	defer rows.Close()

	var counts resource.Counts
	for rows.Next() {
		var status int
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return resource.Counts{}, fmt.Errorf("dbstore: count: %w", err)
		}
		counts.Total += n
		switch resource.Status(status) {
		case resource.Succeeded:
			counts.Succeeded = n
		case resource.InProgress:
			counts.InProgress = n
		case resource.Available:
			counts.Available = n
		case resource.Failed:
			counts.Failed = n
		case resource.Error:
			counts.Error = n
		}
	}
	return counts, rows.Err()
}

// Reset moves every resource at status back to AVAILABLE with one
// UPDATE, then drains the prefetch queue so the reset resources are
// re-handed out soon instead of waiting behind a stale cached batch.
func (s *Store) Reset(ctx context.Context, status resource.Status) (int, error) {
	if err := s.checkAborted(); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s", s.cfg.Table, s.cfg.StatusColumn, placeholder(s.cfg.Driver, 1), s.cfg.StatusColumn, placeholder(s.cfg.Driver, 2))
	result, err := s.db.ExecContext(ctx, query, int(resource.Available), int(status))
	if err != nil {
		return 0, fmt.Errorf("dbstore: reset: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dbstore: reset: %w", err)
	}

	s.drainQueue()
	return int(n), nil
}

func (s *Store) drainQueue() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

func (s *Store) Shutdown(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	return s.db.Close()
}

func placeholder(d Driver, n int) string {
	if d == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

var _ store.Store = (*Store)(nil)
