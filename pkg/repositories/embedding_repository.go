package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotosaurio/iacandy/pkg/database"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// EmbeddingRepository persists embedding records between process restarts so
// unchanged descriptions are never re-embedded.
type EmbeddingRepository interface {
	// Load returns the stored records of a namespace for one embedding model,
	// keyed by document key.
	Load(ctx context.Context, namespace, model string) (map[string]models.EmbeddingRecord, error)

	// Save upserts records. Records without a vector are skipped.
	Save(ctx context.Context, namespace, model string, records []models.EmbeddingRecord) error

	// Prune deletes records of the namespace whose key is not in keep.
	Prune(ctx context.Context, namespace, model string, keep []string) (int64, error)
}

type embeddingRepository struct {
	db *database.DB
}

// NewEmbeddingRepository creates a repository over a migrated store.
func NewEmbeddingRepository(db *database.DB) EmbeddingRepository {
	return &embeddingRepository{db: db}
}

var _ EmbeddingRepository = (*embeddingRepository)(nil)

func (r *embeddingRepository) Load(ctx context.Context, namespace, model string) (map[string]models.EmbeddingRecord, error) {
	query := `
		SELECT doc_key, description_hash, vector, updated_at
		FROM embedding_records
		WHERE namespace = ? AND model = ?`

	rows, err := r.db.QueryContext(ctx, query, namespace, model)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]models.EmbeddingRecord)
	for rows.Next() {
		var (
			rec        models.EmbeddingRecord
			vectorJSON string
		)
		if err := rows.Scan(&rec.Key, &rec.DescriptionHash, &vectorJSON, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding record: %w", err)
		}
		if err := json.Unmarshal([]byte(vectorJSON), &rec.Vector); err != nil {
			return nil, fmt.Errorf("failed to decode vector for %s: %w", rec.Key, err)
		}
		records[rec.Key] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embedding records: %w", err)
	}

	return records, nil
}

func (r *embeddingRepository) Save(ctx context.Context, namespace, model string, records []models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_records
			(namespace, doc_key, model, description_hash, vector, dimensions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, doc_key, model) DO UPDATE SET
			description_hash = excluded.description_hash,
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			continue
		}
		vectorJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return fmt.Errorf("failed to encode vector for %s: %w", rec.Key, err)
		}
		updatedAt := rec.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, namespace, rec.Key, model, rec.DescriptionHash, string(vectorJSON), len(rec.Vector), updatedAt); err != nil {
			return fmt.Errorf("failed to save embedding record %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embedding records: %w", err)
	}
	return nil
}

func (r *embeddingRepository) Prune(ctx context.Context, namespace, model string, keep []string) (int64, error) {
	keepJSON, err := json.Marshal(keep)
	if err != nil {
		return 0, fmt.Errorf("failed to encode keys: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM embedding_records
		WHERE namespace = ? AND model = ?
		  AND doc_key NOT IN (SELECT value FROM json_each(?))`,
		namespace, model, string(keepJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to prune embedding records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned records: %w", err)
	}
	return n, nil
}
