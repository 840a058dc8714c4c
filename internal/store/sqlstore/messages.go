package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
)

const messageColumns = `id, thread_id, sender_id, receiver_id, kind, ciphertext, nonce,
	wrapped_key_sender, wrapped_key_receiver, sender_key_fp, receiver_key_fp, file_url, is_read, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m                models.Message
		kind             string
		env              models.Envelope
		senderFP, recvFP sql.NullString
		fileURL          sql.NullString
	)
	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.ReceiverID, &kind,
		&env.Ciphertext, &env.Nonce, &env.WrappedKeySender, &env.WrappedKeyReceiver,
		&senderFP, &recvFP, &fileURL, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	switch models.PayloadKind(kind) {
	case models.PayloadText:
		env.SenderKeyFingerprint = senderFP.String
		env.ReceiverKeyFingerprint = recvFP.String
		m.Payload = models.NewTextPayload(&env)
	case models.PayloadFile:
		m.Payload = models.NewFilePayload(fileURL.String)
	default:
		return nil, fmt.Errorf("message %d: unknown payload kind %q", m.ID, kind)
	}
	return &m, nil
}

// AppendMessage writes msg and touches its thread in one transaction. The
// thread preview only moves forward in time: an append whose timestamp is
// older than the thread's last activity leaves the preview alone.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message, preview string) error {
	if msg.Payload == nil {
		return apperr.InvalidInput("message needs a text or file payload")
	}
	msg.CreatedAt = s.now()
	msg.IsRead = false

	var (
		ciphertext, nonce, wrappedSender, wrappedReceiver []byte
		senderFP, receiverFP, fileURL                     string
	)
	switch p := msg.Payload.(type) {
	case models.TextPayload:
		ciphertext, nonce = p.Envelope.Ciphertext, p.Envelope.Nonce
		wrappedSender, wrappedReceiver = p.Envelope.WrappedKeySender, p.Envelope.WrappedKeyReceiver
		senderFP, receiverFP = p.Envelope.SenderKeyFingerprint, p.Envelope.ReceiverKeyFingerprint
	case models.FilePayload:
		if p.URL == "" {
			return apperr.InvalidInput("file payload needs a url")
		}
		fileURL = p.URL
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var thread models.Thread
		err := tx.QueryRowContext(ctx, s.rebind("SELECT participant_a, participant_b FROM threads WHERE id = ?"), msg.ThreadID).
			Scan(&thread.ParticipantA, &thread.ParticipantB)
		if err != nil {
			return notFound("thread", err)
		}
		if !thread.Has(msg.SenderID) || thread.Other(msg.SenderID) != msg.ReceiverID {
			return apperr.InvalidInput("sender and receiver must be the thread's participants")
		}

		insert := s.rebind(`INSERT INTO messages (thread_id, sender_id, receiver_id, kind, ciphertext, nonce,
			wrapped_key_sender, wrapped_key_receiver, sender_key_fp, receiver_key_fp, file_url, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?) RETURNING id`)
		err = tx.QueryRowContext(ctx, insert, msg.ThreadID, msg.SenderID, msg.ReceiverID, string(msg.Payload.Kind()),
			nullBytes(ciphertext), nullBytes(nonce), nullBytes(wrappedSender), nullBytes(wrappedReceiver),
			nullString(senderFP), nullString(receiverFP), nullString(fileURL), msg.CreatedAt,
		).Scan(&msg.ID)
		if err != nil {
			return apperr.Storage(err)
		}

		touch := s.rebind(`UPDATE threads SET last_message_preview = ?, last_activity = ?
			WHERE id = ? AND last_activity <= ?`)
		if _, err := tx.ExecContext(ctx, touch, preview, msg.CreatedAt, msg.ThreadID, msg.CreatedAt); err != nil {
			return apperr.Storage(err)
		}
		return nil
	})
}

// ListMessagesByThread returns the thread's messages, oldest first.
func (s *SQLStore) ListMessagesByThread(ctx context.Context, threadID int64) ([]models.Message, error) {
	query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE thread_id = ? ORDER BY created_at ASC, id ASC")
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		messages = append(messages, *m)
	}
	return messages, apperr.Storage(rows.Err())
}

// ListMessagesByParticipants is ListMessagesByThread keyed by the unordered
// pair. A pair that never talked has no thread and no messages.
func (s *SQLStore) ListMessagesByParticipants(ctx context.Context, userID, contactID int64) ([]models.Message, error) {
	thread, err := s.FindThread(ctx, userID, contactID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return []models.Message{}, nil
		}
		return nil, err
	}
	return s.ListMessagesByThread(ctx, thread.ID)
}

// MarkRead flips is_read. Only the receiver can do it; nothing else about a
// stored message ever changes.
func (s *SQLStore) MarkRead(ctx context.Context, messageID, receiverID int64) error {
	query := s.rebind("UPDATE messages SET is_read = TRUE WHERE id = ? AND receiver_id = ?")
	result, err := s.db.ExecContext(ctx, query, messageID, receiverID)
	if err != nil {
		return apperr.Storage(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage(err)
	}
	if rows == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

// FileAccessible reports whether userID sent or received a message carrying
// fileURL.
func (s *SQLStore) FileAccessible(ctx context.Context, fileURL string, userID int64) (bool, error) {
	query := s.rebind("SELECT COUNT(*) FROM messages WHERE file_url = ? AND (sender_id = ? OR receiver_id = ?)")
	var n int
	if err := s.db.QueryRowContext(ctx, query, fileURL, userID, userID).Scan(&n); err != nil {
		return false, apperr.Storage(err)
	}
	return n > 0, nil
}
