package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/language"

	"github.com/roach88/recstore/internal/blob"
	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/index"
	"github.com/roach88/recstore/internal/snapshot"
	"github.com/roach88/recstore/internal/storeerr"
	"github.com/roach88/recstore/internal/template"
)

// IDGenerator produces operation ids for saves and exports.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FaultHook is consulted before the store attempts each save stage from
// blob_written through persisted. A non-nil error aborts the save at that
// stage exactly as a crash there would. Tests use it to exercise recovery.
type FaultHook func(stage Stage) error

// Store is the versioned record store.
type Store struct {
	mu sync.RWMutex

	cfg       config.Config
	ix        *index.Index
	blobs     *blob.Store
	snap      *snapshot.Manager
	report    snapshot.LoadReport
	catalog   *template.Catalog
	collation language.Tag

	logger   *slog.Logger
	now      func() time.Time
	ids      IDGenerator
	fault    FaultHook
	registry prometheus.Registerer
	metrics  *metrics
	snapOpts []snapshot.Option
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the operation id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithFaultHook installs a fault hook.
func WithFaultHook(h FaultHook) Option {
	return func(s *Store) { s.fault = h }
}

// WithRegistry registers the store's metrics with r. Without it the
// metrics live on a private registry.
func WithRegistry(r prometheus.Registerer) Option {
	return func(s *Store) { s.registry = r }
}

// WithSnapshotOptions passes extra options to the snapshot manager.
func WithSnapshotOptions(opts ...snapshot.Option) Option {
	return func(s *Store) { s.snapOpts = append(s.snapOpts, opts...) }
}

// WithCatalog sets the template catalog used for diff labels. Without it
// the catalog is loaded from the config's templates directory.
func WithCatalog(c *template.Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

// Open loads the snapshot named by cfg and returns a ready store.
//
// A corrupt snapshot does not fail Open: the store starts empty and
// Recovery reports what happened.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Store, error) {
	const op = "open store"

	if err := cfg.Validate(); err != nil {
		return nil, storeerr.Wrap(storeerr.KindValidation, op, err)
	}
	codec, err := snapshot.ParseCodec(cfg.SnapshotCodec)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.KindValidation, op, err)
	}
	tag, err := language.Parse(cfg.Collation)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.KindValidation, op, fmt.Errorf("collation: %w", err))
	}

	s := &Store{
		cfg:       cfg,
		blobs:     blob.New(cfg.RecordsDir()),
		collation: tag,
		logger:    slog.Default(),
		now:       time.Now,
		ids:       UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)
	snapOpts := append([]snapshot.Option{snapshot.WithCodec(codec), snapshot.WithClock(s.now)}, s.snapOpts...)
	s.snap = snapshot.New(cfg.SnapshotPath(), snapOpts...)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ix, report, err := s.snap.LoadOrInit()
	if err != nil {
		return nil, err
	}
	s.ix = ix
	s.report = report

	if s.catalog == nil {
		if s.catalog, err = template.LoadDir(cfg.TemplatesDir()); err != nil {
			return nil, storeerr.Wrap(storeerr.KindValidation, op, err)
		}
	}

	stats := ix.Stats()
	s.metrics.observeIndex(stats)
	if report.RecoveryNeeded {
		s.logger.Warn("snapshot unreadable; starting from an empty index",
			"snapshot", s.snap.Path(),
			"quarantined", report.QuarantinedPath,
			"reason", report.Reason)
	}
	s.logger.Debug("store opened",
		"data_dir", cfg.DataDir,
		"store_id", s.snap.StoreID(),
		"documents", stats.Documents,
		"versions", stats.Versions,
		"fresh", report.Fresh)
	return s, nil
}

// Recovery reports how the snapshot was loaded. RecoveryNeeded is set when
// a corrupt snapshot was moved aside at Open.
func (s *Store) Recovery() snapshot.LoadReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// StoreID returns the persistent identity of the store.
func (s *Store) StoreID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.StoreID()
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() config.Config {
	return s.cfg
}

// Catalog returns the template catalog.
func (s *Store) Catalog() *template.Catalog {
	return s.catalog
}

// State returns the index tables. Used by the reporting mirror.
func (s *Store) State(ctx context.Context) (index.State, error) {
	if err := ctx.Err(); err != nil {
		return index.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.State(), nil
}
