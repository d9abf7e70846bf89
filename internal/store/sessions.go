package store

import (
	"context"
	"database/sql"
	"fmt"

	"curator/internal/types"
)

// CreateAnalysisSession records a new session row for a request.
func (s *SQLiteStore) CreateAnalysisSession(ctx context.Context, session types.AnalysisSession) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO analysis_sessions (id, request_id, status, total_files, completed, failed, started_at, completed_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.RequestID, session.Status, session.TotalFiles,
		session.Completed, session.Failed, session.StartedAt, session.CompletedAt, session.Summary)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}
	return nil
}

// UpdateAnalysisSession updates the session row on finalization.
func (s *SQLiteStore) UpdateAnalysisSession(ctx context.Context, session types.AnalysisSession) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE analysis_sessions
		SET status = ?, total_files = ?, completed = ?, failed = ?, completed_at = ?, summary = ?
		WHERE id = ?`,
		session.Status, session.TotalFiles, session.Completed, session.Failed,
		session.CompletedAt, session.Summary, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no session row for %s", session.ID)
	}
	return nil
}

// GetAnalysisSession returns one session row by identifier.
func (s *SQLiteStore) GetAnalysisSession(ctx context.Context, id string) (types.AnalysisSession, error) {
	var session types.AnalysisSession
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, request_id, status, total_files, completed, failed, started_at, completed_at, summary
		FROM analysis_sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.RequestID, &session.Status, &session.TotalFiles,
			&session.Completed, &session.Failed, &session.StartedAt, &session.CompletedAt, &session.Summary)
	if err == sql.ErrNoRows {
		return session, fmt.Errorf("no session row for %s", id)
	}
	if err != nil {
		return session, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return session, nil
}

// ListRecentSessions returns the most recent sessions, newest first.
func (s *SQLiteStore) ListRecentSessions(ctx context.Context, limit int) ([]types.AnalysisSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, request_id, status, total_files, completed, failed, started_at, completed_at, summary
		FROM analysis_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []types.AnalysisSession
	for rows.Next() {
		var session types.AnalysisSession
		err := rows.Scan(&session.ID, &session.RequestID, &session.Status, &session.TotalFiles,
			&session.Completed, &session.Failed, &session.StartedAt, &session.CompletedAt, &session.Summary)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}
