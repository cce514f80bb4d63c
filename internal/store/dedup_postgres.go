package store

import "time"

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	return postgresDedup.isDuplicate(s.db, messageID)
}

func (s *PostgresStore) RecordInbound(messageID, sender string) (bool, error) {
	return postgresDedup.recordInbound(s.db, messageID, sender)
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	return postgresDedup.markProcessedAt(s.db, messageID)
}

func (s *PostgresStore) ReleaseInbound(messageID string) error {
	return postgresDedup.releaseInbound(s.db, messageID)
}

func (s *PostgresStore) PurgeInboundBefore(cutoff time.Time) (int, error) {
	return postgresDedup.purgeBefore(s.db, cutoff)
}
