// Package annostore provides gene annotation lookup (name, description) backed by SQLite.
package annostore

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/wormcells-viz/server/internal/store"
)

// Annotation describes one gene.
type Annotation struct {
	GeneID      string `json:"gene_id"`
	GeneName    string `json:"gene_name"`
	Description string `json:"description"`
}

// Store provides gene annotations using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) the annotation database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS genes (
		gene_id TEXT PRIMARY KEY,
		gene_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_genes_name ON genes(gene_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the annotation of one gene, or a store.KeyError.
func (s *Store) Lookup(ctx context.Context, geneID string) (*Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT gene_id, gene_name, description FROM genes WHERE gene_id = ?
	`, geneID)

	var a Annotation
	err := row.Scan(&a.GeneID, &a.GeneName, &a.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.KeyError{Axis: "annotation", Key: geneID}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LookupMany returns annotations for the genes that have one, in the order
// requested. Unknown genes are skipped.
func (s *Store) LookupMany(ctx context.Context, geneIDs []string) ([]Annotation, error) {
	if len(geneIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(geneIDs)), ",")
	args := make([]interface{}, len(geneIDs))
	for i, id := range geneIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT gene_id, gene_name, description FROM genes WHERE gene_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]Annotation, len(geneIDs))
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.GeneID, &a.GeneName, &a.Description); err != nil {
			return nil, err
		}
		found[a.GeneID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Annotation, 0, len(found))
	for _, id := range geneIDs {
		if a, ok := found[id]; ok {
			out = append(out, a)
			delete(found, id)
		}
	}
	return out, nil
}

// Put inserts or replaces annotations in one transaction.
func (s *Store) Put(ctx context.Context, annotations ...Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO genes (gene_id, gene_name, description) VALUES (?, ?, ?)
		ON CONFLICT(gene_id) DO UPDATE SET gene_name = excluded.gene_name, description = excluded.description
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range annotations {
		if _, err := stmt.ExecContext(ctx, a.GeneID, a.GeneName, a.Description); err != nil {
			return fmt.Errorf("failed to insert %q: %w", a.GeneID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of annotated genes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM genes").Scan(&n)
	return n, err
}

// ImportTSV reads tab-separated gene_id, gene_name, description lines and
// stores them. A first line starting with "gene_id" is treated as a header;
// blank lines and lines starting with '#' are skipped.
func (s *Store) ImportTSV(ctx context.Context, r io.Reader) (int, error) {
	const batchSize = 1000

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		batch []Annotation
		total int
	)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if line == 1 && strings.TrimSpace(fields[0]) == "gene_id" {
			continue
		}
		a := Annotation{GeneID: strings.TrimSpace(fields[0])}
		if a.GeneID == "" {
			return total, fmt.Errorf("line %d: empty gene_id", line)
		}
		if len(fields) > 1 {
			a.GeneName = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			a.Description = strings.TrimSpace(strings.Join(fields[2:], " "))
		}
		batch = append(batch, a)

		if len(batch) == batchSize {
			if err := s.Put(ctx, batch...); err != nil {
				return total, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	if len(batch) > 0 {
		if err := s.Put(ctx, batch...); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}
