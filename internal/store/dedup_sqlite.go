package store

import "time"

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	return sqliteDedup.isDuplicate(s.db, messageID)
}

func (s *SQLiteStore) RecordInbound(messageID, sender string) (bool, error) {
	return sqliteDedup.recordInbound(s.db, messageID, sender)
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	return sqliteDedup.markProcessedAt(s.db, messageID)
}

func (s *SQLiteStore) ReleaseInbound(messageID string) error {
	return sqliteDedup.releaseInbound(s.db, messageID)
}

func (s *SQLiteStore) PurgeInboundBefore(cutoff time.Time) (int, error) {
	return sqliteDedup.purgeBefore(s.db, cutoff)
}
