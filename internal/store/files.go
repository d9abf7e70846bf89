package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"curator/internal/logging"
	"curator/internal/types"
)

const fileColumns = "id, path, name, extension, size_bytes, modified_at, parent_dir, relative_path, mime_type"

// UpsertFile inserts or refreshes one file record, keyed by path. A
// record that already exists keeps its identifier so suggestions stay
// attached across rescans.
func (s *SQLiteStore) UpsertFile(ctx context.Context, file types.FileRecord) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO files (id, path, name, extension, size_bytes, modified_at, parent_dir, relative_path, mime_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			extension = excluded.extension,
			size_bytes = excluded.size_bytes,
			modified_at = excluded.modified_at,
			parent_dir = excluded.parent_dir,
			relative_path = excluded.relative_path,
			mime_type = excluded.mime_type`,
		file.ID, file.Path, file.Name, file.Extension, file.SizeBytes,
		file.ModifiedAt, file.ParentDir, file.RelativePath, file.MIMEType)
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", file.Path, err)
	}
	return nil
}

// UpsertFiles writes a batch of records in one transaction.
func (s *SQLiteStore) UpsertFiles(ctx context.Context, files []types.FileRecord) error {
	if len(files) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		for _, f := range files {
			if err := s.UpsertFile(ctx, f); err != nil {
				return err
			}
		}
		logging.StoreDebug("Upserted %d file records", len(files))
		return nil
	})
}

// DeleteFileByPath removes a file record; suggestions cascade.
func (s *SQLiteStore) DeleteFileByPath(ctx context.Context, path string) error {
	if _, err := s.q(ctx).ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// GetFileByPath looks one record up by absolute path.
func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (types.FileRecord, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE path = ?", path)
	file, err := scanFile(row)
	if err == sql.ErrNoRows {
		return types.FileRecord{}, fmt.Errorf("no file record for path %s", path)
	}
	return file, err
}

// GetFilesByIDs resolves records by identifier. Unknown identifiers are
// silently dropped; order follows the input.
func (s *SQLiteStore) GetFilesByIDs(ctx context.Context, ids []string) ([]types.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]types.FileRecord, len(ids))
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read files: %w", err)
	}

	out := make([]types.FileRecord, 0, len(byID))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetFilesByRootPath returns every indexed file under the given root,
// ordered by path.
func (s *SQLiteStore) GetFilesByRootPath(ctx context.Context, root string) ([]types.FileRecord, error) {
	root = strings.TrimRight(root, "/")
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE parent_dir = ? OR parent_dir LIKE ? ORDER BY path",
		root, root+"/%")
	if err != nil {
		return nil, fmt.Errorf("failed to query files under %s: %w", root, err)
	}
	defer rows.Close()

	var out []types.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read files: %w", err)
	}
	return out, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row scanner) (types.FileRecord, error) {
	var f types.FileRecord
	err := row.Scan(&f.ID, &f.Path, &f.Name, &f.Extension, &f.SizeBytes,
		&f.ModifiedAt, &f.ParentDir, &f.RelativePath, &f.MIMEType)
	if err != nil && err != sql.ErrNoRows {
		return f, fmt.Errorf("failed to scan file record: %w", err)
	}
	return f, err
}
