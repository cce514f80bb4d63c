package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DedupRecord represents an inbound chat message seen by a transport.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo deduplicates inbound transport messages so that a redelivered message
// is never submitted to an intake session twice.
type DedupRepo interface {
	// IsDuplicate reports whether the message ID has already been recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records a new inbound message. It returns false if the
	// message was already recorded.
	RecordInbound(messageID, sender string) (bool, error)

	// MarkProcessed sets the processed timestamp for a message.
	MarkProcessed(messageID string) error

	// ReleaseInbound drops the record of a message that was never marked processed,
	// so that a redelivery is handled again.
	ReleaseInbound(messageID string) error

	// PurgeInboundBefore drops records received before cutoff.
	PurgeInboundBefore(cutoff time.Time) (int, error)
}

// dedupStatements are the dialect-specific statements over the inbound_dedup table.
type dedupStatements struct {
	exists        string
	insert        string // must ignore conflicts on message_id
	markProcessed string
	release       string
	purge         string
}

var sqliteDedup = dedupStatements{
	exists:        `SELECT 1 FROM inbound_dedup WHERE message_id = ?`,
	insert:        `INSERT OR IGNORE INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?)`,
	markProcessed: `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
	release:       `DELETE FROM inbound_dedup WHERE message_id = ? AND processed_at IS NULL`,
	purge:         `DELETE FROM inbound_dedup WHERE received_at < ?`,
}

var postgresDedup = dedupStatements{
	exists:        `SELECT 1 FROM inbound_dedup WHERE message_id = $1`,
	insert:        `INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
	markProcessed: `UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
	release:       `DELETE FROM inbound_dedup WHERE message_id = $1 AND processed_at IS NULL`,
	purge:         `DELETE FROM inbound_dedup WHERE received_at < $1`,
}

func (q dedupStatements) isDuplicate(db *sql.DB, messageID string) (bool, error) {
	var one int
	err := db.QueryRow(q.exists, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (q dedupStatements) recordInbound(db *sql.DB, messageID, sender string) (bool, error) {
	res, err := db.Exec(q.insert, messageID, sender, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n > 0, nil
}

func (q dedupStatements) markProcessedAt(db *sql.DB, messageID string) error {
	if _, err := db.Exec(q.markProcessed, time.Now().UTC(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (q dedupStatements) releaseInbound(db *sql.DB, messageID string) error {
	if _, err := db.Exec(q.release, messageID); err != nil {
		return fmt.Errorf("release inbound failed: %w", err)
	}
	return nil
}

func (q dedupStatements) purgeBefore(db *sql.DB, cutoff time.Time) (int, error) {
	res, err := db.Exec(q.purge, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge inbound records failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge inbound rows affected: %w", err)
	}
	return int(n), nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) ReleaseInbound(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok && rec.ProcessedAt == nil {
		delete(s.inbound, messageID)
	}
	return nil
}

func (s *InMemoryStore) PurgeInboundBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}
