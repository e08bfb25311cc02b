package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/es"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// lexicalDoc is the bleve document stored per indexed key.
type lexicalDoc struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Terms string `json:"terms"`
}

// LexicalIndex is an in-memory BM25 index over the same documents as a
// VectorIndex. It serves retrieval when the embedding backend is unavailable.
type LexicalIndex struct {
	index bleve.Index
	size  int
}

// NewLexicalIndex indexes docs in memory using the Spanish analyzer.
func NewLexicalIndex(docs []IndexDocument) (*LexicalIndex, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = es.AnalyzerName

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}

	batch := index.NewBatch()
	for _, d := range docs {
		doc := lexicalDoc{
			Name:  splitIdentifier(d.Key),
			Text:  d.Text,
			Terms: strings.Join(d.Terms, " "),
		}
		if err := batch.Index(d.Key, doc); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("index %s: %w", d.Key, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("write lexical batch: %w", err)
	}

	return &LexicalIndex{index: index, size: len(docs)}, nil
}

// Search returns up to k keys ranked by BM25. Scores are normalized to (0, 1]
// relative to the best hit; ties are broken by key.
func (l *LexicalIndex) Search(ctx context.Context, text string, k int) ([]models.ScoredMatch, error) {
	return l.search(ctx, text, k, nil)
}

// search optionally restricts hits to the keys in allow.
func (l *LexicalIndex) search(ctx context.Context, text string, k int, allow map[string]bool) ([]models.ScoredMatch, error) {
	if l == nil || k <= 0 || l.size == 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	query := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequestOptions(query, l.size, 0, false)

	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	// Normalize against the best hit overall so a restricted search
	// scores on the same scale as an open one.
	var best float64
	for _, hit := range res.Hits {
		best = max(best, hit.Score)
	}

	var matches []models.ScoredMatch
	for _, hit := range res.Hits {
		if allow != nil && !allow[hit.ID] {
			continue
		}
		score := hit.Score
		if best > 0 {
			score /= best
		}
		matches = append(matches, models.ScoredMatch{Key: hit.ID, Score: score})
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Close releases the index.
func (l *LexicalIndex) Close() error {
	if l == nil {
		return nil
	}
	return l.index.Close()
}

// splitIdentifier turns DOCTOS_PV_DET into "doctos pv det" so the analyzer
// sees individual words.
func splitIdentifier(s string) string {
	return strings.ToLower(strings.NewReplacer("_", " ", ".", " ").Replace(s))
}

// sortMatches orders by descending score, then ascending key.
func sortMatches(matches []models.ScoredMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})
}
