// Package sqlite persists quest state in a single SQLite database.
//
// Contexts are stored as JSON documents guarded by an integer version
// column; the compare-and-swap on that column is what makes concurrent
// resolutions safe across processes. The activation ledger, outbox and
// telemetry live in the same database so a resolution commits in one
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/narrative/branch"
	"github.com/louisbranch/questline/internal/narrative/state"
	"github.com/louisbranch/questline/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/questline/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements storage.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-lock errors under concurrent commits.
	db.SetMaxOpenConns(1)

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	if err := sqlitemigrate.Apply(db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Context returns the stored quest context.
func (s *Store) Context(ctx context.Context, characterID, questID string) (state.Context, error) {
	var (
		data    string
		version uint64
	)
	row := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM contexts WHERE character_id = ? AND quest_id = ?",
		characterID, questID)
	if err := row.Scan(&data, &version); err != nil {
		if err == sql.ErrNoRows {
			return state.Context{}, errors.Newf(errors.CodeContextNotFound, "no context for character %s quest %s", characterID, questID)
		}
		return state.Context{}, fmt.Errorf("read context: %w", err)
	}

	var c state.Context
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return state.Context{}, fmt.Errorf("decode context: %w", err)
	}
	c.Version = version
	return c, nil
}

// Activations returns the activation ledger in step order.
func (s *Store) Activations(ctx context.Context, characterID, questID string) ([]branch.ActivationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT branch_id, status, choice_id, step, activated_at
FROM activations
WHERE character_id = ? AND quest_id = ?
ORDER BY step, seq`,
		characterID, questID)
	if err != nil {
		return nil, fmt.Errorf("read activations: %w", err)
	}
	defer rows.Close()

	var records []branch.ActivationRecord
	for rows.Next() {
		record := branch.ActivationRecord{CharacterID: characterID, QuestID: questID}
		var activatedAt int64
		if err := rows.Scan(&record.BranchID, &record.Status, &record.ChoiceID, &record.Step, &activatedAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		record.ActivatedAt = time.UnixMilli(activatedAt).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}

// CommitResolution applies one resolution atomically. The context write
// is a compare-and-swap on the version column; everything else in the
// commit rides the same transaction.
func (s *Store) CommitResolution(ctx context.Context, commit storage.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	newVersion := commit.ExpectedVersion + 1
	c := commit.Context
	c.Version = newVersion
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	updatedAt := c.UpdatedAt.UnixMilli()

	if commit.ExpectedVersion == 0 {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO contexts (character_id, quest_id, version, data, updated_at) VALUES (?, ?, ?, ?, ?)",
			c.CharacterID, c.QuestID, newVersion, string(data), updatedAt)
		if err != nil {
			return errors.Wrap(errors.CodeVersionConflict,
				fmt.Sprintf("context for character %s quest %s was created concurrently", c.CharacterID, c.QuestID), err)
		}
	} else {
		result, err := tx.ExecContext(ctx,
			"UPDATE contexts SET version = ?, data = ?, updated_at = ? WHERE character_id = ? AND quest_id = ? AND version = ?",
			newVersion, string(data), updatedAt, c.CharacterID, c.QuestID, commit.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update context: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return errors.Newf(errors.CodeVersionConflict,
				"context for character %s quest %s moved past version %d", c.CharacterID, c.QuestID, commit.ExpectedVersion)
		}
	}

	for _, record := range commit.Activations {
		_, err = tx.ExecContext(ctx, `
INSERT INTO activations (character_id, quest_id, branch_id, status, choice_id, step, activated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.CharacterID, record.QuestID, record.BranchID, string(record.Status),
			record.ChoiceID, record.Step, record.ActivatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("append activation: %w", err)
		}
	}

	for _, message := range commit.Outbox {
		_, err = tx.ExecContext(ctx, `
INSERT INTO outbox (id, topic, payload, status, attempts, next_attempt_at, created_at)
VALUES (?, ?, ?, ?, 0, ?, ?)`,
			message.ID, message.Topic, string(message.Payload), storage.OutboxPending,
			message.NextAttemptAt.UnixMilli(), message.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("enqueue outbox message: %w", err)
		}
	}

	for _, event := range commit.Telemetry {
		_, err = tx.ExecContext(ctx, `
INSERT INTO telemetry_events (id, character_id, quest_id, kind, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			event.ID, event.CharacterID, event.QuestID, event.Kind,
			string(event.Payload), event.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("record telemetry event: %w", err)
		}
	}

	return tx.Commit()
}

// DuePending returns pending outbox messages whose next attempt is due.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]storage.OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, topic, payload, status, attempts, next_attempt_at, created_at
FROM outbox
WHERE status = ? AND next_attempt_at <= ?
ORDER BY created_at
LIMIT ?`,
		storage.OutboxPending, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	defer rows.Close()

	var messages []storage.OutboxMessage
	for rows.Next() {
		var (
			message       storage.OutboxMessage
			payload       string
			nextAttemptAt int64
			createdAt     int64
		)
		if err := rows.Scan(&message.ID, &message.Topic, &payload, &message.Status,
			&message.Attempts, &nextAttemptAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		message.Payload = json.RawMessage(payload)
		message.NextAttemptAt = time.UnixMilli(nextAttemptAt).UTC()
		message.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// MarkDelivered finalizes an outbox message.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	return s.markOutbox(ctx, id, "UPDATE outbox SET status = ? WHERE id = ?", storage.OutboxDelivered, id)
}

// MarkFailed schedules a retry or marks the message dead.
func (s *Store) MarkFailed(ctx context.Context, id string, nextAttempt time.Time, dead bool) error {
	status := storage.OutboxPending
	if dead {
		status = storage.OutboxDead
	}
	return s.markOutbox(ctx, id,
		"UPDATE outbox SET status = ?, attempts = attempts + 1, next_attempt_at = ? WHERE id = ?",
		status, nextAttempt.UnixMilli(), id)
}

func (s *Store) markOutbox(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return errors.Newf(errors.CodeNotFound, "outbox message %s not found", id)
	}
	return nil
}

// TelemetryEvents returns recorded events, most recent first.
func (s *Store) TelemetryEvents(ctx context.Context, characterID, questID string, limit int) ([]storage.TelemetryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, payload, created_at
FROM telemetry_events
WHERE character_id = ? AND quest_id = ?
ORDER BY created_at DESC
LIMIT ?`,
		characterID, questID, limit)
	if err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}
	defer rows.Close()

	var events []storage.TelemetryEvent
	for rows.Next() {
		event := storage.TelemetryEvent{CharacterID: characterID, QuestID: questID}
		var (
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}
