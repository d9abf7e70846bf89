package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"curator/internal/logging"
	"curator/internal/types"
)

// SaveSuggestions persists scored suggestions transactionally, replacing
// any earlier suggestions for the same (file, kind) pairs. Rank and
// adjusted confidence round-trip unchanged.
func (s *SQLiteStore) SaveSuggestions(ctx context.Context, suggestions []types.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	return s.Transaction(ctx, func(ctx context.Context) error {
		seen := make(map[string]struct{})
		for _, sg := range suggestions {
			key := sg.FileID + "\x00" + string(sg.Kind)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if _, err := s.q(ctx).ExecContext(ctx,
				"DELETE FROM suggestions WHERE file_id = ? AND kind = ?", sg.FileID, sg.Kind); err != nil {
				return fmt.Errorf("failed to clear old suggestions: %w", err)
			}
		}

		for _, sg := range suggestions {
			flags, err := json.Marshal(sg.Flags)
			if err != nil {
				return fmt.Errorf("failed to encode flags: %w", err)
			}
			createdAt := sg.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			_, err = s.q(ctx).ExecContext(ctx, `
				INSERT INTO suggestions (id, file_id, kind, value, original_confidence,
					adjusted_confidence, quality_score, reasoning, model, duration_ms,
					rank, recommended, flags, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sg.ID, sg.FileID, sg.Kind, sg.Value, sg.OriginalConfidence,
				sg.AdjustedConfidence, sg.QualityScore, sg.Reasoning, sg.Model,
				sg.DurationMs, sg.Rank, sg.Recommended, string(flags), createdAt)
			if err != nil {
				return fmt.Errorf("failed to insert suggestion %s: %w", sg.ID, err)
			}
		}

		logging.StoreDebug("Saved %d suggestions", len(suggestions))
		return nil
	})
}

// GetSuggestionsByFile returns persisted suggestions for one file,
// ordered by (kind, rank).
func (s *SQLiteStore) GetSuggestionsByFile(ctx context.Context, fileID string) ([]types.Suggestion, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, file_id, kind, value, original_confidence, adjusted_confidence,
			quality_score, reasoning, model, duration_ms, rank, recommended, flags, created_at
		FROM suggestions WHERE file_id = ? ORDER BY kind, rank`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions for %s: %w", fileID, err)
	}
	defer rows.Close()

	var out []types.Suggestion
	for rows.Next() {
		var sg types.Suggestion
		var flags string
		err := rows.Scan(&sg.ID, &sg.FileID, &sg.Kind, &sg.Value, &sg.OriginalConfidence,
			&sg.AdjustedConfidence, &sg.QualityScore, &sg.Reasoning, &sg.Model,
			&sg.DurationMs, &sg.Rank, &sg.Recommended, &flags, &sg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &sg.Flags); err != nil {
			return nil, fmt.Errorf("failed to decode flags for %s: %w", sg.ID, err)
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read suggestions: %w", err)
	}
	return out, nil
}
