package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/message"
)

// ErrNotFound is returned when a session or checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists checkpoints in an embedded SQLite database. Writes to the
// same session are serialized through a per-session lock; different sessions
// do not block each other beyond SQLite's own write scheduling.
type Store struct {
	db         *sql.DB
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// Open creates or opens a checkpoint store at path. WAL mode keeps checkpoint
// writes atomic and durable across crashes.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Checkpoint store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			log        TEXT NOT NULL,
			next_stage TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON checkpoints(session_id, seq DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id cannot be empty")
	}
	if strings.Contains(sessionID, "\x00") {
		return errors.New("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) writeLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.writeLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.writeLocks[sessionID] = lock
	}
	return lock
}

// Append writes a new checkpoint for the session with the next sequence
// number. The write is committed before the checkpoint is returned.
func (s *Store) Append(ctx context.Context, sessionID string, log message.Log, nextStage Stage) (Checkpoint, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Checkpoint{}, err
	}

	lock := s.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		observability.RecordCheckpointWrite(time.Since(start))
	}()

	payload, err := json.Marshal(log)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to marshal log: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE session_id = ?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	createdAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, seq, log, next_stage, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, string(payload), string(nextStage), createdAt,
	); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Int64("seq", seq).
		Str("next_stage", string(nextStage)).
		Msg("Checkpoint written")

	return Checkpoint{
		SessionID: sessionID,
		Seq:       seq,
		Log:       log.Clone(),
		NextStage: nextStage,
		CreatedAt: createdAt,
	}, nil
}

// Latest returns the most recent checkpoint for the session, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, sessionID string) (Checkpoint, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Checkpoint{}, err
	}
	start := time.Now()
	defer func() {
		observability.RecordCheckpointLoad(time.Since(start))
	}()
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, seq, log, next_stage, created_at FROM checkpoints
		 WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID)
	return scanCheckpoint(row)
}

// Get returns the checkpoint at seq for the session, or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string, seq int64) (Checkpoint, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Checkpoint{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, seq, log, next_stage, created_at FROM checkpoints
		 WHERE session_id = ? AND seq = ?`, sessionID, seq)
	return scanCheckpoint(row)
}

// History returns all checkpoints for the session, newest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, log, next_stage, created_at FROM checkpoints
		 WHERE session_id = ? ORDER BY seq DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Rollback branches a new checkpoint from the snapshot at seq. If the
// snapshot's log ends with a Human message it is replaced by tail; otherwise
// tail is appended. History is never rewritten: the result is a new
// checkpoint with the session's next sequence number.
func (s *Store) Rollback(ctx context.Context, sessionID string, seq int64, tail message.Message) (Checkpoint, error) {
	snapshot, err := s.Get(ctx, sessionID, seq)
	if err != nil {
		return Checkpoint{}, err
	}

	log := snapshot.Log.Clone()
	if last, ok := log.Last(); ok && last.Role == message.RoleHuman {
		log = log[:len(log)-1]
	}
	log = log.Append(tail)

	cp, err := s.Append(ctx, sessionID, log, StageTurn)
	if err != nil {
		return Checkpoint{}, err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int64("from_seq", seq).
		Int64("new_seq", cp.Seq).
		Msg("Session rolled back")
	return cp, nil
}

// Delete removes all checkpoints for the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	lock := s.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.locksMu.Lock()
	delete(s.writeLocks, sessionID)
	s.locksMu.Unlock()

	s.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// Sessions lists all session ids that have at least one checkpoint.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM checkpoints ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Prune removes all but the newest keep checkpoints for every session.
// keep <= 0 is a no-op.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE (session_id, seq) NOT IN (
			SELECT session_id, seq FROM (
				SELECT session_id, seq,
					ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY seq DESC) AS rn
				FROM checkpoints
			) WHERE rn <= ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("removed", n).Int("keep", keep).Msg("Checkpoints pruned")
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp        Checkpoint
		payload   string
		nextStage string
	)
	err := row.Scan(&cp.SessionID, &cp.Seq, &payload, &nextStage, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &cp.Log); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal log: %w", err)
	}
	cp.NextStage = Stage(nextStage)
	return cp, nil
}
