package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateRecommendation inserts a new pending recommendation row. The partial
// unique index on (zone_id) WHERE status='pending' enforces at most one
// pending recommendation per zone; a violation surfaces as ErrConflict.
func (s *Store) CreateRecommendation(r Recommendation) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	_, err := s.db.Exec(
		`INSERT INTO recommendations
		 (id, zone_id, window_start, window_end, status, response, crops, data_used, confidence, failure_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ZoneID, r.WindowStart, r.WindowEnd, r.Status,
		r.Response, r.CropsJSON, r.DataUsedJSON, r.Confidence, r.FailureReason,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting recommendation: %w", err)
	}
	return nil
}

// GetRecommendation returns the recommendation with the given id, or
// ErrNotFound.
func (s *Store) GetRecommendation(id string) (Recommendation, error) {
	var (
		r        Recommendation
		approved sql.NullTime
	)
	err := s.db.QueryRow(
		`SELECT id, zone_id, window_start, window_end, status, response, crops, data_used, confidence, failure_reason, created_at, updated_at, approved_at
		 FROM recommendations WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.ZoneID, &r.WindowStart, &r.WindowEnd, &r.Status,
		&r.Response, &r.CropsJSON, &r.DataUsedJSON, &r.Confidence, &r.FailureReason,
		&r.CreatedAt, &r.UpdatedAt, &approved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Recommendation{}, ErrNotFound
	}
	if err != nil {
		return Recommendation{}, fmt.Errorf("loading recommendation %s: %w", id, err)
	}
	if approved.Valid {
		t := approved.Time
		r.ApprovedAt = &t
	}
	return r, nil
}

// RecentRecommendations returns the zone's newest recommendations, limited
// to n, newest first.
func (s *Store) RecentRecommendations(zoneID string, n int) ([]Recommendation, error) {
	rows, err := s.db.Query(
		`SELECT id, zone_id, window_start, window_end, status, response, crops, data_used, confidence, failure_reason, created_at, updated_at, approved_at
		 FROM recommendations
		 WHERE zone_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		zoneID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var (
			r        Recommendation
			approved sql.NullTime
		)
		if err := rows.Scan(
			&r.ID, &r.ZoneID, &r.WindowStart, &r.WindowEnd, &r.Status,
			&r.Response, &r.CropsJSON, &r.DataUsedJSON, &r.Confidence, &r.FailureReason,
			&r.CreatedAt, &r.UpdatedAt, &approved,
		); err != nil {
			return nil, fmt.Errorf("scanning recommendation: %w", err)
		}
		if approved.Valid {
			t := approved.Time
			r.ApprovedAt = &t
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// MarkGenerated transitions a pending row to generated, recording the
// pipeline output. Returns ErrConflict if the row is no longer pending,
// which makes a duplicate pipeline invocation an explicit no-op error
// instead of a silent overwrite.
func (s *Store) MarkGenerated(id, response, cropsJSON, dataUsedJSON string, confidence float64) error {
	return s.transition(
		`UPDATE recommendations
		 SET status = ?, response = ?, crops = ?, data_used = ?, confidence = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusGenerated, response, cropsJSON, dataUsedJSON, confidence, time.Now().UTC(), id, StatusPending,
	)
}

// MarkFailed transitions a pending row to failed with a human-readable
// reason. Returns ErrConflict if the row is no longer pending.
func (s *Store) MarkFailed(id, reason string) error {
	return s.transition(
		`UPDATE recommendations SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusFailed, reason, time.Now().UTC(), id, StatusPending,
	)
}

// Approve transitions a generated row to approved.
func (s *Store) Approve(id string) error {
	now := time.Now().UTC()
	return s.transition(
		`UPDATE recommendations SET status = ?, approved_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusApproved, now, now, id, StatusGenerated,
	)
}

// Decline transitions a generated row to declined.
func (s *Store) Decline(id string) error {
	return s.transition(
		`UPDATE recommendations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusDeclined, time.Now().UTC(), id, StatusGenerated,
	)
}

// MarkRegenerated terminates a generated row so a fresh pending row can be
// created for the same zone. The old row stays in history.
func (s *Store) MarkRegenerated(id string) error {
	return s.transition(
		`UPDATE recommendations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRegenerated, time.Now().UTC(), id, StatusGenerated,
	)
}

// transition runs a guarded status UPDATE. Zero rows affected means the row
// either does not exist or is not in the expected state; the two cases are
// distinguished so callers can report them differently.
func (s *Store) transition(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating recommendation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		// args layout: the id precedes the guarded status in every
		// transition query above.
		id, _ := args[len(args)-2].(string)
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM recommendations WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking recommendation %s: %w", id, err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// there is no exported error type to match on.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
