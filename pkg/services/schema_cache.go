package services

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// SchemaSnapshot is everything retrieval needs, built together and replaced
// together.
type SchemaSnapshot struct {
	Tables         []*models.TableDescriptor
	TableIndex     *VectorIndex
	Procedures     []*models.ProcedureDescriptor
	ProcedureIndex *VectorIndex
	BuiltAt        time.Time

	tablesByName     map[string]*models.TableDescriptor
	proceduresByName map[string]*models.ProcedureDescriptor
}

// NewSchemaSnapshot indexes the descriptors by upper-cased name.
func NewSchemaSnapshot(tables []*models.TableDescriptor, tableIndex *VectorIndex, procs []*models.ProcedureDescriptor, procIndex *VectorIndex) *SchemaSnapshot {
	s := &SchemaSnapshot{
		Tables:           tables,
		TableIndex:       tableIndex,
		Procedures:       procs,
		ProcedureIndex:   procIndex,
		tablesByName:     make(map[string]*models.TableDescriptor, len(tables)),
		proceduresByName: make(map[string]*models.ProcedureDescriptor, len(procs)),
	}
	for _, t := range tables {
		s.tablesByName[strings.ToUpper(t.Name)] = t
	}
	for _, p := range procs {
		s.proceduresByName[strings.ToUpper(p.Name)] = p
	}
	return s
}

// Table looks a table up by name, ignoring case.
func (s *SchemaSnapshot) Table(name string) (*models.TableDescriptor, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tablesByName[strings.ToUpper(name)]
	return t, ok
}

// Procedure looks a procedure up by name, ignoring case.
func (s *SchemaSnapshot) Procedure(name string) (*models.ProcedureDescriptor, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.proceduresByName[strings.ToUpper(name)]
	return p, ok
}

// Degraded reports whether some tables are indexed without a vector.
func (s *SchemaSnapshot) Degraded() bool {
	if s == nil || s.TableIndex == nil {
		return false
	}
	return s.TableIndex.Embedded() < s.TableIndex.Len()
}

func (s *SchemaSnapshot) close() {
	_ = s.TableIndex.Close()
	_ = s.ProcedureIndex.Close()
}

// TableDocuments renders table descriptors as index documents.
func TableDocuments(tables []*models.TableDescriptor) []IndexDocument {
	docs := make([]IndexDocument, len(tables))
	for i, t := range tables {
		docs[i] = IndexDocument{Key: t.Name, Text: t.Name + "\n" + t.Description, Terms: t.SearchTerms}
	}
	return docs
}

// SnapshotBuilder produces a complete snapshot. previous is the snapshot
// being replaced, or nil.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, previous *SchemaSnapshot) (*SchemaSnapshot, error)
}

type snapshotBuilder struct {
	descriptors *DescriptorBuilder
	procedures  *ProcedureMatcher
	indexes     *IndexBuilder
}

// NewSnapshotBuilder chains descriptor building, procedure description and
// indexing.
func NewSnapshotBuilder(descriptors *DescriptorBuilder, procedures *ProcedureMatcher, indexes *IndexBuilder) SnapshotBuilder {
	return &snapshotBuilder{descriptors: descriptors, procedures: procedures, indexes: indexes}
}

var _ SnapshotBuilder = (*snapshotBuilder)(nil)

func (b *snapshotBuilder) BuildSnapshot(ctx context.Context, previous *SchemaSnapshot) (*SchemaSnapshot, error) {
	var prevTables, prevProcs *VectorIndex
	if previous != nil {
		prevTables, prevProcs = previous.TableIndex, previous.ProcedureIndex
	}

	tables, err := b.descriptors.Build(ctx)
	if err != nil {
		return nil, &apperrors.CacheBuildError{Stage: "describe tables", Cause: err}
	}
	tableIndex, err := b.indexes.Build(ctx, NamespaceTables, TableDocuments(tables), prevTables)
	if err != nil {
		return nil, &apperrors.CacheBuildError{Stage: "index tables", Cause: err}
	}

	procs, err := b.procedures.Build(ctx)
	if err != nil {
		_ = tableIndex.Close()
		return nil, &apperrors.CacheBuildError{Stage: "describe procedures", Cause: err}
	}
	procIndex, err := b.indexes.Build(ctx, NamespaceProcedures, ProcedureDocuments(procs), prevProcs)
	if err != nil {
		_ = tableIndex.Close()
		return nil, &apperrors.CacheBuildError{Stage: "index procedures", Cause: err}
	}

	return NewSchemaSnapshot(tables, tableIndex, procs, procIndex), nil
}

// SchemaCacheConfig configures a SchemaCache.
type SchemaCacheConfig struct {
	TTL          time.Duration
	BuildTimeout time.Duration

	// RetireDelay is how long a replaced snapshot stays usable by requests
	// that still hold it before its indexes are closed.
	RetireDelay time.Duration

	// FailureCooldown suppresses background rebuilds for this long after a
	// failed build. Forced refreshes are not affected.
	FailureCooldown time.Duration

	Clock clockwork.Clock
}

const snapshotKey = "schema"

// SchemaCache holds the current schema snapshot. Reads never block on a
// rebuild once a snapshot exists: expired snapshots are served while a single
// background rebuild runs.
type SchemaCache struct {
	builder SnapshotBuilder
	config  SchemaCacheConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	entry      atomic.Pointer[models.CacheEntry[*SchemaSnapshot]]
	group      singleflight.Group
	rebuilds   atomic.Int64
	rebuilding atomic.Bool

	mu          sync.Mutex
	lastErr     error
	lastFailure time.Time
}

// NewSchemaCache creates an empty cache. m may be nil.
func NewSchemaCache(builder SnapshotBuilder, config SchemaCacheConfig, m *metrics.Metrics, logger *zap.Logger) *SchemaCache {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.BuildTimeout <= 0 {
		config.BuildTimeout = 5 * time.Minute
	}
	if config.RetireDelay <= 0 {
		config.RetireDelay = time.Minute
	}
	if config.FailureCooldown <= 0 {
		config.FailureCooldown = 30 * time.Second
	}
	return &SchemaCache{
		builder: builder,
		config:  config,
		metrics: m,
		logger:  logger.Named("schema-cache"),
	}
}

// GetOrBuild returns the current snapshot. A valid snapshot is returned as
// is. An expired one is returned immediately while a background rebuild is
// started. With no snapshot, or when forceRefresh is set, the caller waits
// for a rebuild; concurrent callers share one build.
//
// If a rebuild fails while a previous snapshot exists, that snapshot is
// returned. Without one the build error is returned.
func (c *SchemaCache) GetOrBuild(ctx context.Context, forceRefresh bool) (*SchemaSnapshot, error) {
	entry := c.entry.Load()
	if !forceRefresh && entry != nil {
		if !entry.IsValid(c.config.Clock.Now()) {
			c.refreshInBackground()
		}
		return entry.Value, nil
	}

	snap, err := c.waitForBuild(ctx)
	if err != nil {
		if current := c.entry.Load(); current != nil && ctx.Err() == nil {
			c.logger.Warn("Schema rebuild failed, serving previous snapshot", zap.Error(err))
			return current.Value, nil
		}
		return nil, err
	}
	return snap, nil
}

// Refresh forces a rebuild and reports its error. The previous snapshot, if
// any, stays in place on failure.
func (c *SchemaCache) Refresh(ctx context.Context) error {
	_, err := c.waitForBuild(ctx)
	return err
}

// Invalidate expires the current snapshot. It is still served until the
// background rebuild triggered by the next read replaces it.
func (c *SchemaCache) Invalidate() {
	for {
		entry := c.entry.Load()
		if entry == nil {
			return
		}
		expired := models.NewCacheEntry(entry.Value, entry.CreatedAt, 0)
		if c.entry.CompareAndSwap(entry, expired) {
			c.logger.Info("Schema cache invalidated")
			return
		}
	}
}

func (c *SchemaCache) waitForBuild(ctx context.Context) (*SchemaSnapshot, error) {
	ch := c.group.DoChan(snapshotKey, func() (any, error) {
		return c.rebuild()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SchemaSnapshot), nil
	}
}

func (c *SchemaCache) refreshInBackground() {
	if c.rebuilding.Load() {
		return
	}
	if c.coolingDown() {
		c.logger.Debug("Schema snapshot expired, last rebuild failed recently; serving stale snapshot")
		return
	}
	c.logger.Debug("Schema snapshot expired, rebuilding in background")
	// The buffered result channel is dropped; rebuild records its own outcome.
	c.group.DoChan(snapshotKey, func() (any, error) {
		return c.rebuild()
	})
}

// rebuild runs detached from any caller so one cancelled request cannot fail
// the build for the others sharing it.
func (c *SchemaCache) rebuild() (*SchemaSnapshot, error) {
	c.rebuilding.Store(true)
	defer c.rebuilding.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.BuildTimeout)
	defer cancel()

	startTime := c.config.Clock.Now()
	var previous *SchemaSnapshot
	if entry := c.entry.Load(); entry != nil {
		previous = entry.Value
	}

	snap, err := c.builder.BuildSnapshot(ctx, previous)
	elapsed := c.config.Clock.Since(startTime)
	c.metrics.ObserveRebuild(err == nil, elapsed.Seconds())

	if err != nil {
		if !apperrors.IsCacheBuildError(err) {
			err = &apperrors.CacheBuildError{Stage: "build", Cause: err}
		}
		c.setLastErr(err)
		c.logger.Error("Schema cache build failed",
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	now := c.config.Clock.Now()
	snap.BuiltAt = now
	c.entry.Store(models.NewCacheEntry(snap, now, c.config.TTL))
	c.rebuilds.Add(1)
	c.setLastErr(nil)

	if previous != nil && previous != snap {
		c.retire(previous)
	}

	c.logger.Info("Schema cache built",
		zap.Int("tables", len(snap.Tables)),
		zap.Int("procedures", len(snap.Procedures)),
		zap.Bool("degraded", snap.Degraded()),
		zap.Duration("elapsed", elapsed))

	return snap, nil
}

func (c *SchemaCache) retire(snap *SchemaSnapshot) {
	c.config.Clock.AfterFunc(c.config.RetireDelay, snap.close)
}

func (c *SchemaCache) setLastErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		c.lastFailure = c.config.Clock.Now()
	} else {
		c.lastFailure = time.Time{}
	}
}

func (c *SchemaCache) coolingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastFailure.IsZero() && c.config.Clock.Since(c.lastFailure) < c.config.FailureCooldown
}

// LastError returns the error of the most recent failed build, or nil when
// the most recent build succeeded.
func (c *SchemaCache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status reports the observable state of the cache.
func (c *SchemaCache) Status() models.CacheStatus {
	status := models.CacheStatus{
		Rebuilds:   c.rebuilds.Load(),
		Rebuilding: c.rebuilding.Load(),
		TTLSeconds: c.config.TTL.Seconds(),
	}
	if err := c.LastError(); err != nil {
		status.LastError = err.Error()
	}

	entry := c.entry.Load()
	if entry == nil {
		return status
	}
	builtAt := entry.Value.BuiltAt
	status.BuiltAt = &builtAt
	status.Valid = entry.IsValid(c.config.Clock.Now())
	status.TableCount = len(entry.Value.Tables)
	status.ProcedureCount = len(entry.Value.Procedures)
	status.Degraded = entry.Value.Degraded()
	return status
}
