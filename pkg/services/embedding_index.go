package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/models"
	"github.com/rotosaurio/iacandy/pkg/repositories"
)

// Index namespaces.
const (
	NamespaceTables     = "tables"
	NamespaceProcedures = "procedures"
)

// errNoSignal is returned when the query embedding is all zeros.
var errNoSignal = errors.New("query embedding carries no signal")

// IndexDocument is one text to index under a unique key.
type IndexDocument struct {
	Key   string
	Text  string
	Terms []string
}

// DescriptionHash identifies the text a vector was computed from.
func DescriptionHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IndexBuilderConfig holds the builder settings.
type IndexBuilderConfig struct {
	Model        string
	BatchSize    int
	QueryTimeout time.Duration
}

// IndexBuilder embeds documents and produces immutable VectorIndex values.
// Vectors are reused whenever a document's hash matches the previous index
// or the persisted record store, so only changed documents are embedded.
type IndexBuilder struct {
	config     IndexBuilderConfig
	embedder   llm.Embedder
	repo       repositories.EmbeddingRepository
	workerPool *llm.WorkerPool
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewIndexBuilder creates a builder. repo and m may be nil.
func NewIndexBuilder(
	config IndexBuilderConfig,
	embedder llm.Embedder,
	repo repositories.EmbeddingRepository,
	workerPool *llm.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IndexBuilder {
	if config.BatchSize < 1 {
		config.BatchSize = 64
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 10 * time.Second
	}
	return &IndexBuilder{
		config:     config,
		embedder:   embedder,
		repo:       repo,
		workerPool: workerPool,
		metrics:    m,
		logger:     logger.Named("index-builder"),
	}
}

// Build indexes docs under namespace. previous may be nil. Embedding failures
// never fail the build: affected documents are indexed without a vector and
// stay reachable through lexical search.
func (b *IndexBuilder) Build(ctx context.Context, namespace string, docs []IndexDocument, previous *VectorIndex) (*VectorIndex, error) {
	startTime := time.Now()

	var persisted map[string]models.EmbeddingRecord
	if b.repo != nil {
		loaded, err := b.repo.Load(ctx, namespace, b.config.Model)
		if err != nil {
			b.logger.Warn("Failed to load persisted embeddings",
				zap.String("namespace", namespace),
				zap.Error(err))
		} else {
			persisted = loaded
		}
	}

	records := make(map[string]models.EmbeddingRecord, len(docs))
	var pending []IndexDocument
	reused := 0
	for _, d := range docs {
		hash := DescriptionHash(d.Text)
		if rec, ok := previous.record(d.Key); ok && rec.DescriptionHash == hash && rec.HasSignal() {
			records[d.Key] = rec
			reused++
			continue
		}
		if rec, ok := persisted[d.Key]; ok && rec.DescriptionHash == hash && rec.HasSignal() {
			records[d.Key] = rec
			reused++
			continue
		}
		records[d.Key] = models.EmbeddingRecord{Key: d.Key, DescriptionHash: hash}
		pending = append(pending, d)
	}

	fresh, err := b.embedPending(ctx, namespace, pending)
	if err != nil {
		return nil, err
	}
	for _, rec := range fresh {
		records[rec.Key] = rec
	}

	if b.repo != nil {
		b.persist(ctx, namespace, fresh, docs)
	}

	lexical, err := NewLexicalIndex(docs)
	if err != nil {
		return nil, fmt.Errorf("build lexical index for %s: %w", namespace, err)
	}

	b.metrics.ObserveEmbedded(namespace, len(fresh))

	idx := &VectorIndex{
		namespace:    namespace,
		records:      records,
		lexical:      lexical,
		embedder:     b.embedder,
		queryTimeout: b.config.QueryTimeout,
		metrics:      b.metrics,
		logger:       b.logger.Named(namespace),
	}

	b.logger.Info("Built index",
		zap.String("namespace", namespace),
		zap.Int("documents", len(docs)),
		zap.Int("reused", reused),
		zap.Int("embedded", len(fresh)),
		zap.Int("without_vector", len(pending)-len(fresh)),
		zap.Duration("elapsed", time.Since(startTime)))

	return idx, nil
}

// embedPending embeds documents in batches on the worker pool. Failed batches
// are logged and skipped; only cancellation aborts.
func (b *IndexBuilder) embedPending(ctx context.Context, namespace string, pending []IndexDocument) ([]models.EmbeddingRecord, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	var workItems []llm.WorkItem[[]models.EmbeddingRecord]
	for start := 0; start < len(pending); start += b.config.BatchSize {
		batch := pending[start:min(start+b.config.BatchSize, len(pending))]
		workItems = append(workItems, llm.WorkItem[[]models.EmbeddingRecord]{
			ID: fmt.Sprintf("%s[%d:%d]", namespace, start, start+len(batch)),
			Execute: func(ctx context.Context) ([]models.EmbeddingRecord, error) {
				texts := make([]string, len(batch))
				for i, d := range batch {
					texts[i] = d.Text
				}
				vectors, err := b.embedder.EmbedBatch(ctx, texts)
				if err != nil {
					return nil, err
				}
				if len(vectors) != len(batch) {
					return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
				}
				now := time.Now().UTC()
				out := make([]models.EmbeddingRecord, 0, len(batch))
				for i, d := range batch {
					rec := models.EmbeddingRecord{
						Key:             d.Key,
						Vector:          vectors[i],
						DescriptionHash: DescriptionHash(d.Text),
						UpdatedAt:       now,
					}
					if rec.HasSignal() {
						out = append(out, rec)
					}
				}
				return out, nil
			},
		})
	}

	var fresh []models.EmbeddingRecord
	for _, r := range llm.Process(ctx, b.workerPool, workItems, nil) {
		if r.Err != nil {
			b.logger.Warn("Embedding batch failed, documents will be lexical only",
				zap.String("batch", r.ID),
				zap.Error(r.Err))
			continue
		}
		fresh = append(fresh, r.Result...)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embed %s: %w", namespace, err)
	}
	return fresh, nil
}

func (b *IndexBuilder) persist(ctx context.Context, namespace string, fresh []models.EmbeddingRecord, docs []IndexDocument) {
	if err := b.repo.Save(ctx, namespace, b.config.Model, fresh); err != nil {
		b.logger.Warn("Failed to persist embeddings", zap.String("namespace", namespace), zap.Error(err))
		return
	}
	keep := make([]string, len(docs))
	for i, d := range docs {
		keep[i] = d.Key
	}
	if n, err := b.repo.Prune(ctx, namespace, b.config.Model, keep); err != nil {
		b.logger.Warn("Failed to prune embeddings", zap.String("namespace", namespace), zap.Error(err))
	} else if n > 0 {
		b.logger.Debug("Pruned stale embeddings", zap.String("namespace", namespace), zap.Int64("removed", n))
	}
}

// VectorIndex answers top-k similarity queries over one namespace. It is
// immutable once built.
type VectorIndex struct {
	namespace    string
	records      map[string]models.EmbeddingRecord
	lexical      *LexicalIndex
	embedder     llm.Embedder
	queryTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// RetrievalResult is the outcome of Retrieve.
type RetrievalResult struct {
	Matches  []models.ScoredMatch
	Mode     models.RetrievalMode
	Degraded bool
	Err      error
}

func (v *VectorIndex) record(key string) (models.EmbeddingRecord, bool) {
	if v == nil {
		return models.EmbeddingRecord{}, false
	}
	rec, ok := v.records[key]
	return rec, ok
}

// Len returns the number of indexed documents.
func (v *VectorIndex) Len() int {
	if v == nil {
		return 0
	}
	return len(v.records)
}

// Embedded returns the number of documents that carry a vector.
func (v *VectorIndex) Embedded() int {
	if v == nil {
		return 0
	}
	n := 0
	for _, rec := range v.records {
		if rec.HasSignal() {
			n++
		}
	}
	return n
}

// Records returns a copy of the index records keyed by document key.
func (v *VectorIndex) Records() map[string]models.EmbeddingRecord {
	out := make(map[string]models.EmbeddingRecord, v.Len())
	if v == nil {
		return out
	}
	for k, rec := range v.records {
		out[k] = rec
	}
	return out
}

// Close releases the lexical index.
func (v *VectorIndex) Close() error {
	if v == nil {
		return nil
	}
	return v.lexical.Close()
}

// Query returns at most k documents whose cosine similarity to text is at
// least minSimilarity, best first with ties broken by key. Embedding failures
// and zero vectors yield an empty result.
func (v *VectorIndex) Query(ctx context.Context, text string, k int, minSimilarity float64) []models.ScoredMatch {
	matches, err := v.query(ctx, text, k, minSimilarity)
	if err != nil {
		v.logger.Debug("Semantic query failed", zap.Error(err))
		return nil
	}
	return matches
}

func (v *VectorIndex) query(ctx context.Context, text string, k int, minSimilarity float64) ([]models.ScoredMatch, error) {
	if v == nil || k <= 0 || v.Embedded() == 0 {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, v.queryTimeout)
	defer cancel()

	vector, err := v.embedder.Embed(queryCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if !(models.EmbeddingRecord{Vector: vector}).HasSignal() {
		return nil, errNoSignal
	}

	var matches []models.ScoredMatch
	for key, rec := range v.records {
		if !rec.HasSignal() || len(rec.Vector) != len(vector) {
			continue
		}
		score := cosineSimilarity(vector, rec.Vector)
		if score >= minSimilarity {
			matches = append(matches, models.ScoredMatch{Key: key, Score: score})
		}
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Retrieve runs a semantic query and falls back to lexical search when the
// embedding backend fails (degraded). Documents indexed without a vector are
// filled in from lexical hits. Every returned score is at least
// minSimilarity, lexical scores being normalized to the best hit.
func (v *VectorIndex) Retrieve(ctx context.Context, text string, k int, minSimilarity float64) RetrievalResult {
	if v == nil || k <= 0 {
		return RetrievalResult{Mode: models.RetrievalNone}
	}

	matches, err := v.query(ctx, text, k, minSimilarity)
	if err != nil {
		v.logger.Warn("Retrieval degraded, using lexical search",
			zap.String("namespace", v.namespace),
			zap.Error(err))
		v.metrics.ObserveDegraded()

		lexical, lexErr := v.lexical.Search(ctx, text, k)
		if lexErr != nil {
			return RetrievalResult{Mode: models.RetrievalNone, Degraded: true, Err: errors.Join(apperrors.ErrRetrievalDegraded, err, lexErr)}
		}
		lexical = aboveThreshold(lexical, minSimilarity)
		mode := models.RetrievalLexical
		if len(lexical) == 0 {
			mode = models.RetrievalNone
		}
		return RetrievalResult{Matches: lexical, Mode: mode, Degraded: true, Err: fmt.Errorf("%w: %v", apperrors.ErrRetrievalDegraded, err)}
	}

	mode := models.RetrievalSemantic
	if len(matches) < k && v.Embedded() < v.Len() {
		fill := v.lexicalFill(ctx, text, k-len(matches), matches, minSimilarity)
		if len(matches) == 0 && len(fill) > 0 {
			mode = models.RetrievalLexical
		}
		matches = append(matches, fill...)
	}
	if len(matches) == 0 {
		return RetrievalResult{Mode: models.RetrievalNone}
	}
	return RetrievalResult{Matches: matches, Mode: mode}
}

// lexicalFill returns lexical hits among documents without a vector that
// clear minSimilarity. Scores are capped at the weakest semantic hit so they
// rank after every semantic match.
func (v *VectorIndex) lexicalFill(ctx context.Context, text string, n int, have []models.ScoredMatch, minSimilarity float64) []models.ScoredMatch {
	allow := make(map[string]bool)
	for key, rec := range v.records {
		if !rec.HasSignal() {
			allow[key] = true
		}
	}
	for _, m := range have {
		delete(allow, m.Key)
	}

	hits, err := v.lexical.search(ctx, text, len(allow), allow)
	if err != nil {
		return nil
	}
	hits = aboveThreshold(hits, minSimilarity)
	if len(hits) > n {
		hits = hits[:n]
	}
	if len(have) > 0 {
		ceiling := have[len(have)-1].Score
		for i := range hits {
			hits[i].Score = math.Min(hits[i].Score, ceiling)
		}
	}
	return hits
}

// aboveThreshold keeps the matches scoring at least minSimilarity.
func aboveThreshold(matches []models.ScoredMatch, minSimilarity float64) []models.ScoredMatch {
	out := matches[:0]
	for _, m := range matches {
		if m.Score >= minSimilarity {
			out = append(out, m)
		}
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
