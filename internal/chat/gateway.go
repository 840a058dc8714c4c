package chat

import (
	"context"
	"crypto/rsa"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/crypto"
	"github.com/pliu/securedm/internal/models"
	"go.uber.org/zap"
)

// Undecryptable replaces the content of a message the requester cannot open.
const Undecryptable = "[undecryptable]"

// ThreadMessages returns the thread's history decrypted for requesterID.
// Non-members get ErrNotFound, same as for an unknown thread.
func (s *Service) ThreadMessages(ctx context.Context, requesterID int64, passphrase string, threadID int64) ([]models.DecryptedMessage, error) {
	thread, err := s.Store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Has(requesterID) {
		return nil, apperr.NotFound("thread not found")
	}
	messages, err := s.Store.ListMessagesByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(ctx, requesterID, passphrase, messages)
}

// ContactMessages is ThreadMessages addressed by the other participant.
func (s *Service) ContactMessages(ctx context.Context, requesterID int64, passphrase string, contactID int64) ([]models.DecryptedMessage, error) {
	if _, err := s.Store.GetUserByID(ctx, contactID); err != nil {
		return nil, err
	}
	messages, err := s.Store.ListMessagesByParticipants(ctx, requesterID, contactID)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(ctx, requesterID, passphrase, messages)
}

// decryptAll unlocks the requester's private key once and opens every
// message with it. A message that fails to open is returned as a
// placeholder; it never fails the batch.
func (s *Service) decryptAll(ctx context.Context, requesterID int64, passphrase string, messages []models.Message) ([]models.DecryptedMessage, error) {
	out := make([]models.DecryptedMessage, 0, len(messages))
	if len(messages) == 0 {
		return out, nil
	}

	var priv *rsa.PrivateKey
	if hasText(messages) {
		user, err := s.Store.GetUserByID(ctx, requesterID)
		if err != nil {
			return nil, err
		}
		priv, err = crypto.UnlockPrivateKey(user.EncryptedPrivateKey, passphrase)
		if err != nil {
			return nil, err
		}
	}

	for i := range messages {
		msg := &messages[i]
		dm := models.DecryptedMessage{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Timestamp: msg.CreatedAt,
			IsRead:    msg.IsRead,
		}
		switch p := msg.Payload.(type) {
		case models.FilePayload:
			dm.FileURL = p.URL
		case models.TextPayload:
			plain, err := s.open(msg, &p.Envelope, requesterID, priv)
			if err != nil {
				s.logger().Warn("message could not be decrypted",
					zap.Int64("message_id", msg.ID),
					zap.Int64("requester_id", requesterID),
					zap.Error(err))
				dm.Content = Undecryptable
				dm.Undecryptable = true
			} else {
				dm.Content = string(plain)
			}
		}
		out = append(out, dm)
	}
	return out, nil
}

func (s *Service) open(msg *models.Message, env *models.Envelope, requesterID int64, priv *rsa.PrivateKey) ([]byte, error) {
	role, ok := crypto.RoleOf(msg, requesterID)
	if !ok {
		return nil, apperr.E(apperr.KindDecryptionFailed, "requester is not a participant", nil)
	}
	return crypto.DecryptEnvelope(env, role, priv)
}

func hasText(messages []models.Message) bool {
	for i := range messages {
		if _, ok := messages[i].Payload.(models.TextPayload); ok {
			return true
		}
	}
	return false
}
