// Package archive persists finalized session results to SQLite so evidence
// survives the process and can be inspected later with proctorctl. Image
// and audio payloads are stored as BLOBs alongside BLAKE2b-256 digests; the
// digests let a reviewer detect corruption or post-hoc edits, they are not
// a cryptographic proof.
package archive

import (
	"context"
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"proctord/internal/event"
	"proctord/internal/media"
	"proctord/internal/session"
)

var _ session.Archiver = (*Store)(nil)

// ErrNotFound is returned when a session is absent from the archive.
var ErrNotFound = errors.New("archive: session not found")

// Schema for the proctord evidence archive.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id      TEXT PRIMARY KEY,
    started_at_ns   INTEGER NOT NULL,
    finalized_ns    INTEGER NOT NULL,
    elapsed_ms      INTEGER NOT NULL,
    reason          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS violations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id),
    violation_id    INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    label           TEXT NOT NULL,
    severity        TEXT NOT NULL,
    timestamp_ns    INTEGER NOT NULL,
    webcam_image    BLOB,
    webcam_digest   BLOB,
    screen_image    BLOB,
    screen_digest   BLOB,
    clip_id         INTEGER,
    away_ms         INTEGER,
    detail          TEXT
);

CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id, timestamp_ns);

CREATE TABLE IF NOT EXISTS captures (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id),
    capture_id      INTEGER NOT NULL,
    timestamp_ns    INTEGER NOT NULL,
    source          TEXT NOT NULL,
    trigger_kind    TEXT NOT NULL,
    image           BLOB,
    image_digest    BLOB
);

CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id, timestamp_ns);

CREATE TABLE IF NOT EXISTS audio_clips (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id),
    clip_id         INTEGER NOT NULL,
    violation_id    INTEGER NOT NULL,
    recorded_at_ns  INTEGER NOT NULL,
    audio           BLOB,
    audio_digest    BLOB
);

CREATE INDEX IF NOT EXISTS idx_clips_session ON audio_clips(session_id);
`

// Store is the SQLite evidence archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive database at the given path. A
// non-positive busy timeout falls back to five seconds.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveResult archives one finalized session in a single transaction. It
// satisfies the session.Archiver contract.
func (s *Store) SaveResult(ctx context.Context, sessionID string, startedAt time.Time, reason string, res *event.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at_ns, finalized_ns, elapsed_ms, reason)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, startedAt.UnixNano(), now.UnixNano(), res.Elapsed.Milliseconds(), reason,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO violations (session_id, violation_id, kind, label, severity, timestamp_ns,
			webcam_image, webcam_digest, screen_image, screen_digest, clip_id, away_ms, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare violations: %w", err)
	}
	defer stmt.Close()

	for _, v := range res.Violations {
		var clipID, awayMS any
		if v.ClipID != 0 {
			clipID = v.ClipID
		}
		if v.HasAway {
			awayMS = v.AwayMS
		}
		if _, err := stmt.ExecContext(ctx,
			sessionID, v.ID, v.Kind.String(), v.Label, string(v.Severity), v.Timestamp.UnixNano(),
			v.WebcamImage, digestOrNil(v.WebcamImage),
			v.ScreenImage, digestOrNil(v.ScreenImage),
			clipID, awayMS, v.Detail,
		); err != nil {
			return fmt.Errorf("insert violation: %w", err)
		}
	}

	for _, c := range res.Captures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO captures (session_id, capture_id, timestamp_ns, source, trigger_kind, image, image_digest)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, c.ID, c.Timestamp.UnixNano(), string(c.Source), string(c.Trigger),
			c.Image, digestOrNil(c.Image),
		); err != nil {
			return fmt.Errorf("insert capture: %w", err)
		}
	}

	for _, clip := range res.Clips {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audio_clips (session_id, clip_id, violation_id, recorded_at_ns, audio, audio_digest)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, clip.ID, clip.ViolationID, clip.Timestamp.UnixNano(),
			clip.Audio, digestOrNil(clip.Audio),
		); err != nil {
			return fmt.Errorf("insert audio clip: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SessionSummary is one archived session as listed by proctorctl.
type SessionSummary struct {
	SessionID  string
	StartedAt  time.Time
	Finalized  time.Time
	Elapsed    time.Duration
	Reason     string
	Violations int
	Captures   int
	Clips      int
}

// ListSessions returns all archived sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at_ns, s.finalized_ns, s.elapsed_ms, s.reason,
			(SELECT COUNT(*) FROM violations v WHERE v.session_id = s.session_id),
			(SELECT COUNT(*) FROM captures c WHERE c.session_id = s.session_id),
			(SELECT COUNT(*) FROM audio_clips a WHERE a.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var startedNs, finalizedNs, elapsedMs int64
		if err := rows.Scan(&sum.SessionID, &startedNs, &finalizedNs, &elapsedMs, &sum.Reason,
			&sum.Violations, &sum.Captures, &sum.Clips); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.StartedAt = time.Unix(0, startedNs)
		sum.Finalized = time.Unix(0, finalizedNs)
		sum.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetSession returns one session summary.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.session_id, s.started_at_ns, s.finalized_ns, s.elapsed_ms, s.reason,
			(SELECT COUNT(*) FROM violations v WHERE v.session_id = s.session_id),
			(SELECT COUNT(*) FROM captures c WHERE c.session_id = s.session_id),
			(SELECT COUNT(*) FROM audio_clips a WHERE a.session_id = s.session_id)
		FROM sessions s WHERE s.session_id = ?`, sessionID)

	var sum SessionSummary
	var startedNs, finalizedNs, elapsedMs int64
	err := row.Scan(&sum.SessionID, &startedNs, &finalizedNs, &elapsedMs, &sum.Reason,
		&sum.Violations, &sum.Captures, &sum.Clips)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sum.StartedAt = time.Unix(0, startedNs)
	sum.Finalized = time.Unix(0, finalizedNs)
	sum.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return &sum, nil
}

// ViolationRecord is one archived violation row without its payloads.
type ViolationRecord struct {
	ViolationID int64
	Kind        string
	Label       string
	Severity    string
	Timestamp   time.Time
	HasWebcam   bool
	HasScreen   bool
	ClipID      int64
	AwayMS      int64
	HasAway     bool
	Detail      string
}

// Violations returns a session's violations in append order.
func (s *Store) Violations(ctx context.Context, sessionID string) ([]ViolationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT violation_id, kind, label, severity, timestamp_ns,
			webcam_image IS NOT NULL, screen_image IS NOT NULL,
			clip_id, away_ms, detail
		FROM violations WHERE session_id = ? ORDER BY violation_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []ViolationRecord
	for rows.Next() {
		var v ViolationRecord
		var ts int64
		var clipID, awayMS sql.NullInt64
		if err := rows.Scan(&v.ViolationID, &v.Kind, &v.Label, &v.Severity, &ts,
			&v.HasWebcam, &v.HasScreen, &clipID, &awayMS, &v.Detail); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Timestamp = time.Unix(0, ts)
		if clipID.Valid {
			v.ClipID = clipID.Int64
		}
		if awayMS.Valid {
			v.AwayMS = awayMS.Int64
			v.HasAway = true
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VerifyEvidence re-hashes every stored payload for a session and returns
// the number of rows whose digest no longer matches.
func (s *Store) VerifyEvidence(ctx context.Context, sessionID string) (int, error) {
	var bad int

	check := func(query string) error {
		rows, err := s.db.QueryContext(ctx, query, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var payload, digest []byte
			if err := rows.Scan(&payload, &digest); err != nil {
				return err
			}
			want := media.Digest(payload)
			if !bytes.Equal(want[:], digest) {
				bad++
			}
		}
		return rows.Err()
	}

	queries := []string{
		`SELECT webcam_image, webcam_digest FROM violations WHERE session_id = ? AND webcam_image IS NOT NULL`,
		`SELECT screen_image, screen_digest FROM violations WHERE session_id = ? AND screen_image IS NOT NULL`,
		`SELECT image, image_digest FROM captures WHERE session_id = ? AND image IS NOT NULL`,
		`SELECT audio, audio_digest FROM audio_clips WHERE session_id = ? AND audio IS NOT NULL`,
	}
	for _, q := range queries {
		if err := check(q); err != nil {
			return 0, fmt.Errorf("verify evidence: %w", err)
		}
	}
	return bad, nil
}

// digestOrNil returns the BLAKE2b digest of a payload, or nil for an absent
// payload so the digest column mirrors the payload column's nullness.
func digestOrNil(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	d := media.Digest(payload)
	return d[:]
}
