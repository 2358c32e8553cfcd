package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"livetrans/session"
)

//go:embed schema.sql
var ddl string

// Store archives final results in sqlite. It subscribes to the session
// pipeline as a sink; persistence stays outside the core path, so
// inserts run on a background writer and Notify never blocks a session.
type Store struct {
	db     *sql.DB
	log    *log.Logger
	queue  chan session.FinalResult
	done   chan struct{}
	closed sync.Once
}

func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:    db,
		log:   logger,
		queue: make(chan session.FinalResult, 256),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Notify implements session.Sink. A full queue drops the result with a
// warning instead of stalling the transcription pipeline.
func (s *Store) Notify(result session.FinalResult) {
	select {
	case s.queue <- result:
	default:
		s.log.Warn("archive queue full, dropping result",
			"session", result.SessionID)
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for result := range s.queue {
		if err := s.insert(result); err != nil {
			s.log.Error("archive transcription", "error", err,
				"session", result.SessionID)
		}
	}
}

func (s *Store) insert(r session.FinalResult) error {
	_, err := s.db.Exec(
		`INSERT INTO transcriptions (
			session_id, created_at,
			original_text, original_language,
			translated_text, translated_language,
			translation_failed
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Timestamp,
		r.Original.Text, r.Original.Language,
		r.Translated.Text, r.Translated.Language,
		r.TranslationFailed,
	)
	return err
}

// SessionResults returns the archived transcript for one session in
// arrival order.
func (s *Store) SessionResults(ctx context.Context, sessionID string) ([]session.FinalResult, error) {
	return s.query(ctx,
		`SELECT session_id, created_at,
			original_text, original_language,
			translated_text, translated_language,
			translation_failed
		FROM transcriptions WHERE session_id = ? ORDER BY id`,
		sessionID)
}

// Recent returns the newest archived results across all sessions.
func (s *Store) Recent(ctx context.Context, limit int) ([]session.FinalResult, error) {
	return s.query(ctx,
		`SELECT session_id, created_at,
			original_text, original_language,
			translated_text, translated_language,
			translation_failed
		FROM transcriptions ORDER BY id DESC LIMIT ?`,
		limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]session.FinalResult, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcriptions: %w", err)
	}
	defer rows.Close()

	var results []session.FinalResult
	for rows.Next() {
		var r session.FinalResult
		if err := rows.Scan(
			&r.SessionID, &r.Timestamp,
			&r.Original.Text, &r.Original.Language,
			&r.Translated.Text, &r.Translated.Language,
			&r.TranslationFailed,
		); err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close drains the writer queue and closes the database.
func (s *Store) Close() error {
	s.closed.Do(func() {
		close(s.queue)
	})
	<-s.done
	return s.db.Close()
}
