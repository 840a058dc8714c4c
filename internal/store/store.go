package store

import (
	"context"

	"github.com/pliu/securedm/internal/models"
)

type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	SearchUsers(ctx context.Context, prefix string, excludeID int64, limit int) ([]models.Contact, error)

	// Thread operations
	FindOrCreateThread(ctx context.Context, userA, userB int64) (*models.Thread, error)
	FindThread(ctx context.Context, userA, userB int64) (*models.Thread, error)
	GetThread(ctx context.Context, id int64) (*models.Thread, error)
	ListThreadsForUser(ctx context.Context, userID int64) ([]models.ThreadSummary, error)

	// Message operations
	AppendMessage(ctx context.Context, msg *models.Message, preview string) error
	ListMessagesByThread(ctx context.Context, threadID int64) ([]models.Message, error)
	ListMessagesByParticipants(ctx context.Context, userID, contactID int64) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID, receiverID int64) error
	FileAccessible(ctx context.Context, fileURL string, userID int64) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
