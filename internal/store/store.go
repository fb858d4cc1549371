package store

import (
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"knowthecode/internal/fingerprint"
)

func init() {
	sqlite_vec.Auto()
}

// Store persists chunks, their embeddings, and repository fingerprints.
// Chunks live in per-repository namespaces; a chunk is never visible
// outside the namespace it was written to.
type Store interface {
	// Upsert writes chunks and their embeddings into a namespace.
	// Idempotent by (namespace, chunk id): re-writing overwrites.
	Upsert(namespace string, chunks []Chunk, embeddings [][]float32) error
	// Query returns the top-k chunks in the namespace nearest to the
	// embedding by cosine similarity.
	Query(namespace string, embedding []float32, k int) ([]SearchResult, error)
	// NamespaceExists reports whether any chunk is stored in the namespace.
	NamespaceExists(namespace string) (bool, error)
	// DeleteNamespace removes all chunks and embeddings in the namespace
	// along with the repository's fingerprint.
	DeleteNamespace(namespace string) error
	// ListRepos returns all repositories with a committed fingerprint.
	ListRepos() ([]RepoRecord, error)
	// Close closes the underlying database.
	Close() error

	fingerprint.Store
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes
// the schema for the given embedding dimensionality.
func Open(dbPath string, dimensions int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db, dimensions); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Upsert(namespace string, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("mismatched chunks (%d) and embeddings (%d)", len(chunks), len(embeddings))
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, c := range chunks {
		// Replace any previous version of this chunk id.
		var oldRowid int64
		err := tx.QueryRow(
			"SELECT id FROM chunks WHERE namespace = ? AND chunk_id = ?",
			namespace, c.ID,
		).Scan(&oldRowid)
		switch {
		case err == nil:
			if _, err := tx.Exec("DELETE FROM vec_chunks WHERE chunk_rowid = ?", oldRowid); err != nil {
				return err
			}
			if _, err := tx.Exec("DELETE FROM chunks WHERE id = ?", oldRowid); err != nil {
				return err
			}
		case err != sql.ErrNoRows:
			return err
		}

		res, err := tx.Exec(
			`INSERT INTO chunks (namespace, chunk_id, path, language, name, kind, start_line, end_line, content)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			namespace, c.ID, c.Path, c.Language, c.Name, c.Kind, c.StartLine, c.EndLine, c.Content,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}

		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %s: %w", c.ID, err)
		}
		if _, err := tx.Exec("INSERT INTO vec_chunks (chunk_rowid, embedding) VALUES (?, ?)", rowid, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Query(namespace string, embedding []float32, k int) ([]SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.Query(`
		SELECT v.distance, c.chunk_id, c.path, c.language, c.name, c.kind,
		       c.start_line, c.end_line, c.content
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_rowid
		WHERE v.embedding MATCH ?
		  AND v.chunk_rowid IN (SELECT id FROM chunks WHERE namespace = ?)
		ORDER BY v.distance
		LIMIT ?
	`, blob, namespace, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		err := rows.Scan(
			&distance,
			&r.Chunk.ID, &r.Chunk.Path, &r.Chunk.Language, &r.Chunk.Name, &r.Chunk.Kind,
			&r.Chunk.StartLine, &r.Chunk.EndLine, &r.Chunk.Content,
		)
		if err != nil {
			return nil, err
		}
		// Cosine distance -> similarity.
		r.Score = 1 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) NamespaceExists(namespace string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM chunks WHERE namespace = ? LIMIT 1", namespace).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) DeleteNamespace(namespace string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM vec_chunks WHERE chunk_rowid IN (SELECT id FROM chunks WHERE namespace = ?)",
		namespace,
	); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE namespace = ?", namespace); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM repos WHERE id = ?", namespace); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFingerprint(repoID string) (*fingerprint.Fingerprint, error) {
	fp := fingerprint.Fingerprint{RepoID: repoID}
	err := s.db.QueryRow(
		"SELECT fingerprint, embed_model, chunk_count, indexed_at FROM repos WHERE id = ?",
		repoID,
	).Scan(&fp.Hash, &fp.EmbedModel, &fp.ChunkCount, &fp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

func (s *SQLiteStore) PutFingerprint(fp fingerprint.Fingerprint) error {
	_, err := s.db.Exec(`
		INSERT INTO repos (id, fingerprint, embed_model, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			embed_model = excluded.embed_model,
			chunk_count = excluded.chunk_count,
			indexed_at  = excluded.indexed_at
	`, fp.RepoID, fp.Hash, fp.EmbedModel, fp.ChunkCount, fp.CreatedAt)
	return err
}

func (s *SQLiteStore) ListRepos() ([]RepoRecord, error) {
	rows, err := s.db.Query("SELECT id, chunk_count, indexed_at FROM repos ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []RepoRecord
	for rows.Next() {
		var r RepoRecord
		if err := rows.Scan(&r.ID, &r.ChunkCount, &r.IndexedAt); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
