package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pressroom/api/internal/util"
)

// Postgres stores documents in a single jsonb-backed table. CreateOrReplace
// maps to INSERT .. ON CONFLICT DO UPDATE, which is atomic per document id
// and never touches created_at on the update path.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) Get(ctx context.Context, id string) (*Document, error) {
	const query = `SELECT id, type, fields, created_at, updated_at FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *Postgres) FindSiteByDomain(ctx context.Context, domain string) (*Document, error) {
	// Earliest-created match wins so concurrent-create duplicates resolve
	// deterministically.
	const query = `
		SELECT id, type, fields, created_at, updated_at
		FROM documents
		WHERE type = 'site' AND fields->>'domain' = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find site %s: %w", domain, err)
	}
	return &doc, nil
}

func (s *Postgres) Create(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = util.NewID(doc.Type)
	}
	fields, err := json.Marshal(orEmpty(doc.Fields))
	if err != nil {
		return Document{}, fmt.Errorf("marshal fields: %w", err)
	}
	const insert = `
		INSERT INTO documents (id, type, fields)
		VALUES ($1, $2, $3)
		RETURNING id, type, fields, created_at, updated_at
	`
	created, err := scanDocument(s.db.QueryRowContext(ctx, insert, doc.ID, doc.Type, fields))
	if err != nil {
		return Document{}, fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return created, nil
}

func (s *Postgres) CreateOrReplace(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = util.NewID(doc.Type)
	}
	fields, err := json.Marshal(orEmpty(doc.Fields))
	if err != nil {
		return Document{}, fmt.Errorf("marshal fields: %w", err)
	}
	const upsert = `
		INSERT INTO documents (id, type, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET type = EXCLUDED.type, fields = EXCLUDED.fields, updated_at = NOW()
		RETURNING id, type, fields, created_at, updated_at
	`
	persisted, err := scanDocument(s.db.QueryRowContext(ctx, upsert, doc.ID, doc.Type, fields))
	if err != nil {
		return Document{}, fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return persisted, nil
}

func (s *Postgres) Patch(ctx context.Context, id string, set map[string]any, unset []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patch: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT fields FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("patch document %s: not found", id)
		}
		return fmt.Errorf("patch document %s: %w", id, err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("patch document %s: decode fields: %w", id, err)
	}
	for k, v := range set {
		fields[k] = v
	}
	for _, k := range unset {
		delete(fields, k)
	}

	updated, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("patch document %s: encode fields: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET fields = $2, updated_at = NOW() WHERE id = $1`, id, updated); err != nil {
		return fmt.Errorf("patch document %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *Postgres) ListIDsByType(ctx context.Context, docType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE type = $1 ORDER BY created_at ASC`, docType)
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", docType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc Document
		raw []byte
	)
	if err := row.Scan(&doc.ID, &doc.Type, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.Fields = make(map[string]any)
	if err := json.Unmarshal(raw, &doc.Fields); err != nil {
		return Document{}, fmt.Errorf("decode fields: %w", err)
	}
	return doc, nil
}

func orEmpty(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}
