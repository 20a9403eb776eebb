// Package sink implements termsession.CompletionSink on top of a SQLite
// journal, one row per terminal session, using a WAL-mode-plus-busy-timeout
// open and a checkpoint on close.
package sink

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/termsession"
)

var sinkLog = logging.ForComponent(logging.CompSink)

// SchemaVersion tracks the completions table shape. Bump when the columns
// change.
const SchemaVersion = 1

const queueCapacity = 256

// DB is a SQLite-backed termsession.CompletionSink. Record enqueues onto a
// buffered channel drained by a single writer goroutine, so a slow disk
// never makes a session's actor loop wait.
type DB struct {
	db     *sql.DB
	queue  chan termsession.CompletionRecord
	done   chan struct{}
	closed chan struct{}
}

// Open creates or opens a SQLite database at dbPath with WAL mode and a
// busy timeout, and starts the async writer goroutine.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("sink: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sink: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: busy timeout: %w", err)
	}

	s := &DB{
		db:     db,
		queue:  make(chan termsession.CompletionRecord, queueCapacity),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	go s.writeLoop()
	return s, nil
}

func (s *DB) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS completions (
			session_id   TEXT PRIMARY KEY,
			command      TEXT NOT NULL,
			cwd          TEXT NOT NULL DEFAULT '',
			shell        TEXT NOT NULL DEFAULT '',
			exit_code    INTEGER NOT NULL DEFAULT 0,
			exit_signal  TEXT NOT NULL DEFAULT '',
			success      INTEGER NOT NULL DEFAULT 0,
			started_at   TIMESTAMP NOT NULL,
			ended_at     TIMESTAMP NOT NULL,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			stdout       TEXT NOT NULL DEFAULT '',
			recorded_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("sink: migrate: %w", err)
	}
	return nil
}

// Record implements termsession.CompletionSink. It never blocks on disk
// I/O; if the writer goroutine has fallen behind and the queue is full, the
// record is dropped and logged rather than stalling the caller's session
// loop.
func (s *DB) Record(rec termsession.CompletionRecord) {
	select {
	case s.queue <- rec:
	default:
		sinkLog.Warn("completion_queue_full_dropping_record", slog.String("session_id", rec.SessionID))
	}
}

func (s *DB) writeLoop() {
	defer close(s.closed)
	for {
		select {
		case rec := <-s.queue:
			s.insert(rec)
		case <-s.done:
			// Drain whatever is already queued before shutting down.
			for {
				select {
				case rec := <-s.queue:
					s.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *DB) insert(rec termsession.CompletionRecord) {
	_, err := s.db.Exec(`
		INSERT INTO completions (
			session_id, command, cwd, shell, exit_code, exit_signal,
			success, started_at, ended_at, duration_ms, stdout
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			exit_code=excluded.exit_code, exit_signal=excluded.exit_signal,
			success=excluded.success, ended_at=excluded.ended_at,
			duration_ms=excluded.duration_ms, stdout=excluded.stdout
	`,
		rec.SessionID, rec.Command, rec.Cwd, rec.Shell, rec.ExitCode, rec.ExitSignal,
		boolToInt(rec.Success), rec.StartedAt, rec.EndedAt, rec.DurationMs, rec.Stdout,
	)
	if err != nil {
		sinkLog.Warn("completion_insert_failed", slog.String("session_id", rec.SessionID), slog.String("error", err.Error()))
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recent returns up to limit of the most recently recorded completions,
// newest first. Used by a future history-inspection surface; not exercised
// by the RPC tool set today.
func (s *DB) Recent(limit int) ([]termsession.CompletionRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, command, cwd, shell, exit_code, exit_signal, success,
		       started_at, ended_at, duration_ms, stdout
		FROM completions ORDER BY recorded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: query recent: %w", err)
	}
	defer rows.Close()

	var out []termsession.CompletionRecord
	for rows.Next() {
		var rec termsession.CompletionRecord
		var success int
		var started, ended time.Time
		if err := rows.Scan(&rec.SessionID, &rec.Command, &rec.Cwd, &rec.Shell,
			&rec.ExitCode, &rec.ExitSignal, &success, &started, &ended,
			&rec.DurationMs, &rec.Stdout); err != nil {
			return nil, fmt.Errorf("sink: scan: %w", err)
		}
		rec.Success = success != 0
		rec.StartedAt = started
		rec.EndedAt = ended
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close stops the writer goroutine (draining anything already queued),
// checkpoints the WAL, and closes the database.
func (s *DB) Close() error {
	close(s.done)
	<-s.closed
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
