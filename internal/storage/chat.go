package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArchiveExchange stores one user/assistant exchange as two transcript rows.
func (s *Store) ArchiveExchange(threadKey, userText, assistantText string) error {
	now := time.Now().UTC()
	if err := s.AppendChatMessage(ChatMessage{
		ID: uuid.NewString(), ThreadKey: threadKey, Role: "user", Text: userText, CreatedAt: now,
	}); err != nil {
		return err
	}
	// The assistant row sorts after the user row on equal timestamps only by
	// chance; give it a strictly later timestamp.
	return s.AppendChatMessage(ChatMessage{
		ID: uuid.NewString(), ThreadKey: threadKey, Role: "assistant", Text: assistantText, CreatedAt: now.Add(time.Millisecond),
	})
}

// AppendChatMessage archives one line of a chat exchange.
func (s *Store) AppendChatMessage(m ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (id, thread_key, role, message_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ThreadKey, m.Role, m.Text, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}
	return nil
}

// ChatTranscript returns the newest n archived messages for a thread key,
// oldest first.
func (s *Store) ChatTranscript(threadKey string, n int) ([]ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, thread_key, role, message_text, created_at
		 FROM (
		   SELECT id, thread_key, role, message_text, created_at
		   FROM chat_messages
		   WHERE thread_key = ?
		   ORDER BY created_at DESC
		   LIMIT ?
		 )
		 ORDER BY created_at ASC`,
		threadKey, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat transcript: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ThreadKey, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
