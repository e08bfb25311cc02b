package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/database"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/models"
	"github.com/rotosaurio/iacandy/pkg/repositories"
)

func testDocs() []IndexDocument {
	return []IndexDocument{
		{Key: "CLIENTES", Text: "clientes nombre rfc compradores"},
		{Key: "ARTICULOS", Text: "articulos productos precio"},
		{Key: "DOCTOS_PV", Text: "ventas ticket importe fecha clientes"},
	}
}

func newTestIndexBuilder(embedder llm.Embedder, repo repositories.EmbeddingRepository) *IndexBuilder {
	return NewIndexBuilder(IndexBuilderConfig{Model: "mock-embedding", BatchSize: 1}, embedder, repo, newTestWorkerPool(), nil, zap.NewNop())
}

func newTestEmbeddingRepo(t *testing.T) repositories.EmbeddingRepository {
	t.Helper()
	db, err := database.NewConnection(context.Background(), &database.Config{
		Path: filepath.Join(t.TempDir(), "embeddings.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db, zap.NewNop()))
	return repositories.NewEmbeddingRepository(db)
}

func buildTestIndex(t *testing.T, b *IndexBuilder, docs []IndexDocument, previous *VectorIndex) *VectorIndex {
	t.Helper()
	idx, err := b.Build(context.Background(), NamespaceTables, docs, previous)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

// failingEmbedder fails any batch containing a text with the marker.
type failingEmbedder struct {
	inner  *llm.MockEmbedder
	marker string
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.inner.Embed(ctx, text)
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, f.marker) {
			return nil, errors.New("embedding service unavailable")
		}
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func TestIndexBuilder_RebuildIsIdempotent(t *testing.T) {
	embedder := llm.NewMockEmbedder(256)
	b := newTestIndexBuilder(embedder, nil)

	first := buildTestIndex(t, b, testDocs(), nil)
	require.Equal(t, 3, embedder.Embedded())
	assert.Equal(t, 3, first.Len())
	assert.Equal(t, 3, first.Embedded())

	second := buildTestIndex(t, b, testDocs(), first)
	assert.Equal(t, 3, embedder.Embedded(), "unchanged documents must not be re-embedded")
	assert.Equal(t, first.Records(), second.Records())
}

func TestIndexBuilder_ReembedsOnlyChangedDocuments(t *testing.T) {
	embedder := llm.NewMockEmbedder(256)
	b := newTestIndexBuilder(embedder, nil)

	first := buildTestIndex(t, b, testDocs(), nil)

	docs := testDocs()
	docs[1].Text = "articulos productos precio existencias almacen"
	second := buildTestIndex(t, b, docs, first)

	assert.Equal(t, 4, embedder.Embedded())
	assert.NotEqual(t, first.Records()["ARTICULOS"].DescriptionHash, second.Records()["ARTICULOS"].DescriptionHash)
	assert.Equal(t, first.Records()["CLIENTES"], second.Records()["CLIENTES"])
}

func TestIndexBuilder_ReusesPersistedVectors(t *testing.T) {
	repo := newTestEmbeddingRepo(t)

	first := llm.NewMockEmbedder(256)
	buildTestIndex(t, newTestIndexBuilder(first, repo), testDocs(), nil)
	require.Equal(t, 3, first.Embedded())

	restarted := llm.NewMockEmbedder(256)
	idx := buildTestIndex(t, newTestIndexBuilder(restarted, repo), testDocs(), nil)

	assert.Equal(t, 0, restarted.Embedded())
	assert.Equal(t, 3, idx.Embedded())
}

func TestIndexBuilder_PrunesRemovedDocuments(t *testing.T) {
	ctx := context.Background()
	repo := newTestEmbeddingRepo(t)
	b := newTestIndexBuilder(llm.NewMockEmbedder(256), repo)

	buildTestIndex(t, b, testDocs(), nil)
	buildTestIndex(t, b, testDocs()[:2], nil)

	records, err := repo.Load(ctx, NamespaceTables, "mock-embedding")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.NotContains(t, records, "DOCTOS_PV")
}

func TestIndexBuilder_EmbeddingFailureKeepsDocumentsLexical(t *testing.T) {
	embedder := &failingEmbedder{inner: llm.NewMockEmbedder(256), marker: "ventas"}
	idx := buildTestIndex(t, newTestIndexBuilder(embedder, nil), testDocs(), nil)

	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 2, idx.Embedded())
	assert.False(t, idx.Records()["DOCTOS_PV"].HasSignal())
}

func TestVectorIndex_QueryRespectsKAndMinSimilarity(t *testing.T) {
	idx := buildTestIndex(t, newTestIndexBuilder(llm.NewMockEmbedder(256), nil), testDocs(), nil)
	ctx := context.Background()

	matches := idx.Query(ctx, "productos precio", 3, 0.5)
	require.Len(t, matches, 1)
	assert.Equal(t, "ARTICULOS", matches[0].Key)
	assert.GreaterOrEqual(t, matches[0].Score, 0.5)

	matches = idx.Query(ctx, "clientes", 2, 0)
	require.Len(t, matches, 2)
	assert.Equal(t, "CLIENTES", matches[0].Key)
	assert.Equal(t, "DOCTOS_PV", matches[1].Key)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	for k := 0; k <= 4; k++ {
		for _, minSim := range []float64{0, 0.3, 0.9} {
			got := idx.Query(ctx, "clientes ventas productos", k, minSim)
			assert.LessOrEqual(t, len(got), k)
			for _, m := range got {
				assert.GreaterOrEqual(t, m.Score, minSim)
			}
		}
	}
}

func TestVectorIndex_QueryWithNoSignal(t *testing.T) {
	embedder := llm.NewMockEmbedder(256)
	idx := buildTestIndex(t, newTestIndexBuilder(embedder, nil), testDocs(), nil)

	assert.Empty(t, idx.Query(context.Background(), "   ", 3, 0))
}

func TestVectorIndex_RetrieveSemantic(t *testing.T) {
	idx := buildTestIndex(t, newTestIndexBuilder(llm.NewMockEmbedder(256), nil), testDocs(), nil)

	res := idx.Retrieve(context.Background(), "productos precio", 3, 0.5)

	assert.Equal(t, models.RetrievalSemantic, res.Mode)
	assert.False(t, res.Degraded)
	assert.NoError(t, res.Err)
	require.NotEmpty(t, res.Matches)
	assert.Equal(t, "ARTICULOS", res.Matches[0].Key)
}

func TestVectorIndex_RetrieveDegradesToLexical(t *testing.T) {
	embedder := llm.NewMockEmbedder(256)
	idx := buildTestIndex(t, newTestIndexBuilder(embedder, nil), testDocs(), nil)

	embedder.SetErr(errors.New("connection reset"))
	res := idx.Retrieve(context.Background(), "articulos", 3, 0.5)

	assert.True(t, res.Degraded)
	assert.Equal(t, models.RetrievalLexical, res.Mode)
	assert.ErrorIs(t, res.Err, apperrors.ErrRetrievalDegraded)
	require.NotEmpty(t, res.Matches)
	assert.Equal(t, "ARTICULOS", res.Matches[0].Key)
}

func TestVectorIndex_RetrieveNothingRelevant(t *testing.T) {
	idx := buildTestIndex(t, newTestIndexBuilder(llm.NewMockEmbedder(256), nil), testDocs(), nil)

	res := idx.Retrieve(context.Background(), "zzz qqq", 3, 0.9)

	assert.Equal(t, models.RetrievalNone, res.Mode)
	assert.Empty(t, res.Matches)
	assert.False(t, res.Degraded)
}

func TestVectorIndex_RetrieveFillsUnembeddedFromLexical(t *testing.T) {
	embedder := &failingEmbedder{inner: llm.NewMockEmbedder(256), marker: "ventas"}
	idx := buildTestIndex(t, newTestIndexBuilder(embedder, nil), testDocs(), nil)

	res := idx.Retrieve(context.Background(), "ventas clientes", 3, 0.2)

	assert.Equal(t, models.RetrievalSemantic, res.Mode)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "CLIENTES", res.Matches[0].Key)
	assert.Equal(t, "DOCTOS_PV", res.Matches[1].Key)
	assert.LessOrEqual(t, res.Matches[1].Score, res.Matches[0].Score)
	assert.GreaterOrEqual(t, res.Matches[1].Score, 0.2)
}

func TestVectorIndex_RetrieveUnembeddedOnlyLexically(t *testing.T) {
	embedder := &failingEmbedder{inner: llm.NewMockEmbedder(256), marker: "ventas"}
	idx := buildTestIndex(t, newTestIndexBuilder(embedder, nil), testDocs(), nil)

	res := idx.Retrieve(context.Background(), "ventas", 3, 0.5)

	assert.Equal(t, models.RetrievalLexical, res.Mode)
	assert.False(t, res.Degraded)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "DOCTOS_PV", res.Matches[0].Key)
}

func TestVectorIndex_RetrieveHealthyBackendDoesNotFallBack(t *testing.T) {
	idx := buildTestIndex(t, newTestIndexBuilder(llm.NewMockEmbedder(256), nil), testDocs(), nil)

	require.Empty(t, idx.Query(context.Background(), "clientes fecha", 3, 0.99))
	res := idx.Retrieve(context.Background(), "clientes fecha", 3, 0.99)

	assert.Equal(t, models.RetrievalNone, res.Mode)
	assert.Empty(t, res.Matches)
	assert.NoError(t, res.Err)
}

func TestVectorIndex_RetrieveHonoursMinSimilarity(t *testing.T) {
	ctx := context.Background()
	questions := []string{"clientes fecha", "ventas clientes", "productos precio ventas", "articulos"}
	thresholds := []float64{0, 0.3, 0.6, 0.99}

	healthy := buildTestIndex(t, newTestIndexBuilder(llm.NewMockEmbedder(256), nil), testDocs(), nil)
	partial := buildTestIndex(t, newTestIndexBuilder(&failingEmbedder{inner: llm.NewMockEmbedder(256), marker: "ventas"}, nil), testDocs(), nil)

	downEmbedder := llm.NewMockEmbedder(256)
	down := buildTestIndex(t, newTestIndexBuilder(downEmbedder, nil), testDocs(), nil)
	downEmbedder.SetErr(errors.New("connection reset"))

	for name, idx := range map[string]*VectorIndex{"healthy": healthy, "partial": partial, "down": down} {
		for _, q := range questions {
			for _, minSim := range thresholds {
				res := idx.Retrieve(ctx, q, 3, minSim)
				assert.LessOrEqual(t, len(res.Matches), 3)
				for _, m := range res.Matches {
					assert.GreaterOrEqual(t, m.Score, minSim, "%s %q: %s scored below %v", name, q, m.Key, minSim)
				}
			}
		}
	}
}

func TestVectorIndex_NilIsEmpty(t *testing.T) {
	var idx *VectorIndex
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Records())
	assert.NoError(t, idx.Close())
	assert.Equal(t, models.RetrievalNone, idx.Retrieve(context.Background(), "x", 3, 0).Mode)
}

func TestLexicalIndex_Search(t *testing.T) {
	lex, err := NewLexicalIndex(testDocs())
	require.NoError(t, err)
	defer lex.Close()

	matches, err := lex.Search(context.Background(), "ventas", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "DOCTOS_PV", matches[0].Key)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)

	matches, err = lex.Search(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
