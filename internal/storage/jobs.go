package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const defaultMaxAttempts = 3

// jobRetryBase is the first retry delay; each subsequent attempt doubles it.
const jobRetryBase = time.Minute

// EnqueueJob inserts a pending job. MaxAttempts defaults to 3 when zero.
func (s *Store) EnqueueJob(j Job) error {
	now := time.Now().UTC()
	if j.MaxAttempts == 0 {
		j.MaxAttempts = defaultMaxAttempts
	}
	if j.Status == "" {
		j.Status = "pending"
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = now
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, type, payload, status, attempts, max_attempts, run_after, created_at, updated_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, j.PayloadJSON, j.Status, j.Attempts, j.MaxAttempts,
		j.RunAfter, j.CreatedAt, now, j.LastError,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest runnable job of the given types,
// marking it running and incrementing its attempt counter. Returns (nil, nil)
// when no job is ready.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(types))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(types)+1)
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, time.Now().UTC())

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting claim transaction: %w", err)
	}
	defer tx.Rollback()

	var j Job
	err = tx.QueryRow(
		`SELECT id, type, payload, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		 FROM jobs
		 WHERE status = 'pending' AND type IN (`+placeholders+`) AND run_after <= ?
		 ORDER BY created_at ASC
		 LIMIT 1`,
		args...,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	j.Status = "running"
	j.Attempts++
	if _, err := tx.Exec(
		`UPDATE jobs SET status = 'running', attempts = ?, updated_at = ? WHERE id = ?`,
		j.Attempts, time.Now().UTC(), j.ID,
	); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &j, nil
}

// CompleteJob marks a running job completed.
func (s *Store) CompleteJob(id string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return nil
}

// FailJob records a failed attempt. If attempts remain, the job is requeued
// with exponential backoff (1m, 2m, 4m, ...); otherwise it is marked failed
// permanently.
func (s *Store) FailJob(id string, errMsg string) error {
	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).
		Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading job %s: %w", id, err)
	}

	now := time.Now().UTC()
	if attempts >= maxAttempts {
		if _, err := s.db.Exec(
			`UPDATE jobs SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`,
			errMsg, now, id,
		); err != nil {
			return fmt.Errorf("marking job %s failed: %w", id, err)
		}
		return nil
	}

	backoff := time.Duration(float64(jobRetryBase) * math.Pow(2, float64(attempts-1)))
	if _, err := s.db.Exec(
		`UPDATE jobs SET status = 'pending', last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		errMsg, now.Add(backoff), now, id,
	); err != nil {
		return fmt.Errorf("requeueing job %s: %w", id, err)
	}
	return nil
}

// GetJob returns a job by id, or ErrNotFound.
func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	err := s.db.QueryRow(
		`SELECT id, type, payload, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		 FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return j, nil
}
