// Package chat implements threads, sending and the decrypting read path on
// top of the store, crypto and blob packages.
package chat

import (
	"context"
	"crypto/rsa"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/blob"
	"github.com/pliu/securedm/internal/crypto"
	"github.com/pliu/securedm/internal/models"
	"github.com/pliu/securedm/internal/store"
	"go.uber.org/zap"
)

const (
	EncryptedPreview  = "🔒 encrypted message"
	filePreviewPrefix = "📎 "

	minSearchLen = 2
	searchLimit  = 10
)

// Publisher fans a message descriptor out to live connections.
type Publisher interface {
	Publish(ctx context.Context, event models.NewMessageEvent) error
}

type Service struct {
	Store     store.Store
	Blobs     blob.Store
	Publisher Publisher
	Log       *zap.Logger
}

func NewService(st store.Store, blobs blob.Store, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: st, Blobs: blobs, Publisher: pub, Log: log}
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendRequest addresses a message either by ThreadID or by ContactID.
// Exactly one of Content and File must be set.
type SendRequest struct {
	SenderID  int64
	ThreadID  int64
	ContactID int64
	Content   *string
	File      *Upload
}

func (s *Service) StartThread(ctx context.Context, userID, contactID int64) (*models.Thread, error) {
	if contactID <= 0 {
		return nil, apperr.InvalidInput("user_id is required")
	}
	if userID == contactID {
		return nil, apperr.InvalidInput("cannot start a thread with yourself")
	}
	if _, err := s.Store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.Store.GetUserByID(ctx, contactID); err != nil {
		return nil, err
	}
	return s.Store.FindOrCreateThread(ctx, userID, contactID)
}

func (s *Service) ListThreads(ctx context.Context, userID int64) ([]models.ThreadSummary, error) {
	threads, err := s.Store.ListThreadsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if threads == nil {
		threads = []models.ThreadSummary{}
	}
	return threads, nil
}

// SearchIdentities does a case-insensitive email prefix search. Queries
// shorter than two characters match nothing.
func (s *Service) SearchIdentities(ctx context.Context, requesterID int64, query string) ([]models.Contact, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if utf8.RuneCountInString(query) < minSearchLen {
		return []models.Contact{}, nil
	}
	contacts, err := s.Store.SearchUsers(ctx, query, requesterID, searchLimit)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	return contacts, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, messageID int64) error {
	return s.Store.MarkRead(ctx, messageID, userID)
}

// OpenFile returns an attachment to one of the participants of a message
// that carries it. Anyone else gets NotFound, same as for a missing file.
func (s *Service) OpenFile(ctx context.Context, userID int64, id string) (*blob.Object, error) {
	ok, err := s.Store.FileAccessible(ctx, blob.LocatorPrefix+id, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("file not found")
	}
	return s.Blobs.Get(ctx, id)
}

// Send encrypts or uploads the payload, persists it and publishes a
// descriptor. Plaintext never reaches the store, the preview or the event.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	hasText := req.Content != nil
	hasFile := req.File != nil
	if hasText == hasFile {
		return nil, apperr.InvalidInput("exactly one of content or file is required")
	}
	if hasText && *req.Content == "" {
		return nil, apperr.InvalidInput("content is empty")
	}
	if hasFile && len(req.File.Data) == 0 {
		return nil, apperr.InvalidInput("file is empty")
	}

	thread, err := s.resolveThread(ctx, req)
	if err != nil {
		return nil, err
	}
	receiverID := thread.Other(req.SenderID)

	var (
		payload models.Payload
		preview string
	)
	if hasText {
		env, err := s.encrypt(ctx, []byte(*req.Content), req.SenderID, receiverID)
		if err != nil {
			return nil, err
		}
		payload, preview = models.NewTextPayload(env), EncryptedPreview
	} else {
		name := fileName(req.File.Name)
		locator, err := s.Blobs.Put(ctx, &blob.Object{Name: name, ContentType: req.File.ContentType, Data: req.File.Data})
		if err != nil {
			return nil, err
		}
		payload, preview = models.NewFilePayload(locator), filePreviewPrefix+name
	}

	msg := &models.Message{
		ThreadID:   thread.ID,
		SenderID:   req.SenderID,
		ReceiverID: receiverID,
		Payload:    payload,
	}
	if err := s.Store.AppendMessage(ctx, msg, preview); err != nil {
		return nil, err
	}

	s.publish(ctx, msg)
	return msg, nil
}

func (s *Service) resolveThread(ctx context.Context, req SendRequest) (*models.Thread, error) {
	switch {
	case req.ThreadID != 0:
		thread, err := s.Store.GetThread(ctx, req.ThreadID)
		if err != nil {
			return nil, err
		}
		if !thread.Has(req.SenderID) {
			return nil, apperr.NotFound("thread not found")
		}
		return thread, nil
	case req.ContactID != 0:
		return s.StartThread(ctx, req.SenderID, req.ContactID)
	}
	return nil, apperr.InvalidInput("thread_id or contact_id is required")
}

func (s *Service) encrypt(ctx context.Context, content []byte, senderID, receiverID int64) (*models.Envelope, error) {
	senderPub, err := s.publicKey(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiverPub, err := s.publicKey(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	return crypto.EncryptForThread(content, senderPub, receiverPub)
}

func (s *Service) publicKey(ctx context.Context, userID int64) (*rsa.PublicKey, error) {
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.ParsePublicKey(user.PublicKey)
	if err != nil {
		return nil, apperr.E(apperr.KindStorageFailure, "stored public key is unusable", err)
	}
	return pub, nil
}

// publish is best effort: the message is already durable and clients
// recover by re-fetching.
func (s *Service) publish(ctx context.Context, msg *models.Message) {
	if s.Publisher == nil {
		return
	}
	event := models.NewMessageEvent{
		Type:       models.EventNewMessage,
		ThreadID:   msg.ThreadID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Kind:       msg.Payload.Kind(),
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.logger().Warn("failed to publish message event",
			zap.Int64("message_id", msg.ID),
			zap.Error(apperr.E(apperr.KindBroadcastDeliveryFailure, "", err)))
	}
}

func fileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
