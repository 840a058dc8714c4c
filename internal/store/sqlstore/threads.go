package sqlstore

import (
	"context"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
)

const threadColumns = "id, participant_a, participant_b, last_message_preview, last_activity, created_at"

func scanThread(row rowScanner) (*models.Thread, error) {
	var t models.Thread
	if err := row.Scan(&t.ID, &t.ParticipantA, &t.ParticipantB, &t.LastMessagePreview, &t.LastActivity, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindOrCreateThread is insert-or-fetch on the normalized pair. The unique
// constraint decides the race between concurrent callers, so both of them
// read back the same row.
func (s *SQLStore) FindOrCreateThread(ctx context.Context, userA, userB int64) (*models.Thread, error) {
	if userA <= 0 || userB <= 0 || userA == userB {
		return nil, apperr.InvalidInput("a thread needs two distinct users")
	}
	a, b := models.NormalizePair(userA, userB)
	now := s.now()

	insert := s.rebind(`INSERT INTO threads (participant_a, participant_b, last_message_preview, last_activity, created_at)
		VALUES (?, ?, '', ?, ?)
		ON CONFLICT (participant_a, participant_b) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, insert, a, b, now, now); err != nil && !isUniqueViolation(err) {
		return nil, apperr.Storage(err)
	}
	return s.FindThread(ctx, a, b)
}

func (s *SQLStore) FindThread(ctx context.Context, userA, userB int64) (*models.Thread, error) {
	a, b := models.NormalizePair(userA, userB)
	query := s.rebind("SELECT " + threadColumns + " FROM threads WHERE participant_a = ? AND participant_b = ?")
	t, err := scanThread(s.db.QueryRowContext(ctx, query, a, b))
	if err != nil {
		return nil, notFound("thread", err)
	}
	return t, nil
}

func (s *SQLStore) GetThread(ctx context.Context, id int64) (*models.Thread, error) {
	query := s.rebind("SELECT " + threadColumns + " FROM threads WHERE id = ?")
	t, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("thread", err)
	}
	return t, nil
}

// ListThreadsForUser returns the user's threads, most recent activity first.
func (s *SQLStore) ListThreadsForUser(ctx context.Context, userID int64) ([]models.ThreadSummary, error) {
	query := s.rebind(`
		SELECT t.id, u.id, u.email, t.last_message_preview, t.last_activity,
			(SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id AND m.receiver_id = ? AND NOT m.is_read)
		FROM threads t
		JOIN users u ON u.id = CASE WHEN t.participant_a = ? THEN t.participant_b ELSE t.participant_a END
		WHERE t.participant_a = ? OR t.participant_b = ?
		ORDER BY t.last_activity DESC, t.id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	threads := []models.ThreadSummary{}
	for rows.Next() {
		var ts models.ThreadSummary
		if err := rows.Scan(&ts.ThreadID, &ts.OtherParty, &ts.OtherEmail, &ts.Preview, &ts.LastActivity, &ts.UnreadCount); err != nil {
			return nil, apperr.Storage(err)
		}
		threads = append(threads, ts)
	}
	return threads, apperr.Storage(rows.Err())
}
