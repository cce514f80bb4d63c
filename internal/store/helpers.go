package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// dedupeConclusions returns the log with later repeats removed, keeping first-occurrence order.
func dedupeConclusions(log []models.Conclusion) []models.Conclusion {
	seen := make(map[models.Conclusion]struct{}, len(log))
	out := make([]models.Conclusion, 0, len(log))
	for _, c := range log {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// encodeStateData converts flow state data to the JSON column representation.
func encodeStateData(data map[models.DataKey]string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeStateData parses the JSON column; malformed data yields an empty map.
func decodeStateData(raw, sessionID string) map[models.DataKey]string {
	data := make(map[models.DataKey]string)
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("store.decodeStateData: JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return make(map[models.DataKey]string)
	}
	return data
}

func scanFacts(rows *sql.Rows) ([]models.Fact, error) {
	defer rows.Close()
	var facts []models.Fact
	for rows.Next() {
		var f models.Fact
		var conclusion sql.NullString
		if err := rows.Scan(&f.Raw, &f.Interpreted, &conclusion, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact failed: %w", err)
		}
		f.Conclusion = models.Conclusion(conclusion.String)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func scanConclusions(rows *sql.Rows) ([]models.Conclusion, error) {
	defer rows.Close()
	var log []models.Conclusion
	for rows.Next() {
		var c models.Conclusion
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan conclusion failed: %w", err)
		}
		log = append(log, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dedupeConclusions(log), nil
}

func scanTranscript(rows *sql.Rows) ([]models.ChatMessage, error) {
	defer rows.Close()
	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript message failed: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanSessions(rows *sql.Rows) ([]models.IntakeSessionRecord, error) {
	defer rows.Close()
	var sessions []models.IntakeSessionRecord
	for rows.Next() {
		var rec models.IntakeSessionRecord
		var participant sql.NullString
		if err := rows.Scan(&rec.ID, &participant, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session failed: %w", err)
		}
		rec.Participant = participant.String
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

func queryIDs(tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sessionTables lists the per-session tables removed when a session is deleted.
var sessionTables = []string{"facts", "conclusions", "transcript_messages", "flow_states"}
