package store

import (
	"context"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// DefaultListLimit is used by List when limit <= 0.
const DefaultListLimit = 1000

// HashData returns the lowercase hex SHA-512 of data.
func HashData(data []byte) string {
	h := sha512.Sum512(data)
	return hex.EncodeToString(h[:])
}

const documentColumns = `id, created_on, pdf_creation_datetime, title, filename, url,
	data, data_sha512, captured_at`

// Insert stores c as a new document. The dedup key is computed from c.Data;
// c.DataSHA512 is ignored. Returns ErrDuplicate if the content is already
// stored.
func (s *Store) Insert(ctx context.Context, c *Candidate) (*Document, error) {
	doc := &Document{
		CreatedOn:           s.now().UTC(),
		PDFCreationDatetime: c.PDFCreationDatetime,
		Title:               c.Title,
		Filename:            c.Filename,
		URL:                 c.URL,
		Data:                c.Data,
		DataSHA512:          HashData(c.Data),
		CapturedAt:          c.CapturedAt,
	}
	if doc.Data == nil {
		doc.Data = []byte{}
	}

	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO documents (created_on, pdf_creation_datetime, title, filename, url,
		data, data_sha512, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(data_sha512) DO NOTHING
		RETURNING id`,
		formatTime(doc.CreatedOn), formatTimePtr(doc.PDFCreationDatetime),
		doc.Title, doc.Filename, doc.URL, doc.Data, doc.DataSHA512,
		formatTimePtr(doc.CapturedAt),
	).Scan(&doc.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// GetByID returns the document with the given id or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*Document, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return doc, nil
}

// List returns documents ordered by id. A negative offset is treated as 0
// and limit <= 0 as DefaultListLimit.
func (s *Store) List(ctx context.Context, offset, limit int) ([]*Document, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Exists reports whether a document with the given data_sha512 is stored.
// The lookup uses the unique index.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE data_sha512 = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

// ListHashes returns the data_sha512 of every stored document, ordered by
// id. Dedup does not use it; see Exists.
func (s *Store) ListHashes(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT data_sha512 FROM documents ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*Document, error) {
	var (
		doc                    Document
		createdOn              string
		pdfCreated, capturedAt sql.NullString
	)
	if err := r.Scan(&doc.ID, &createdOn, &pdfCreated, &doc.Title, &doc.Filename,
		&doc.URL, &doc.Data, &doc.DataSHA512, &capturedAt); err != nil {
		return nil, err
	}

	var err error
	if doc.CreatedOn, err = parseTime(createdOn); err != nil {
		return nil, fmt.Errorf("created_on: %w", err)
	}
	if doc.PDFCreationDatetime, err = parseTimePtr(pdfCreated); err != nil {
		return nil, fmt.Errorf("pdf_creation_datetime: %w", err)
	}
	if doc.CapturedAt, err = parseTimePtr(capturedAt); err != nil {
		return nil, fmt.Errorf("captured_at: %w", err)
	}
	return &doc, nil
}
