package models

import "time"

type User struct {
	ID                  int64     `json:"id"`
	Email               string    `json:"email"`
	Phone               string    `json:"-"`
	PasswordHash        string    `json:"-"`
	Salt                string    `json:"-"` // unlock passphrase for EncryptedPrivateKey
	PublicKey           string    `json:"public_key"`
	EncryptedPrivateKey string    `json:"encrypted_private_key,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Contact is the public view of a user returned by search.
type Contact struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Thread is the single conversation between an unordered pair of users.
// ParticipantA is always the smaller id.
type Thread struct {
	ID                 int64     `json:"id"`
	ParticipantA       int64     `json:"participant_a"`
	ParticipantB       int64     `json:"participant_b"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastActivity       time.Time `json:"last_activity"`
	CreatedAt          time.Time `json:"created_at"`
}

func (t *Thread) Has(userID int64) bool {
	return t.ParticipantA == userID || t.ParticipantB == userID
}

// Other returns the participant that is not userID.
func (t *Thread) Other(userID int64) int64 {
	if t.ParticipantA == userID {
		return t.ParticipantB
	}
	return t.ParticipantA
}

// NormalizePair orders two user ids so that (a, b) and (b, a) map to the
// same thread key.
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

type ThreadSummary struct {
	ThreadID     int64     `json:"thread_id"`
	OtherParty   int64     `json:"other_party"`
	OtherEmail   string    `json:"other_email"`
	Preview      string    `json:"preview"`
	LastActivity time.Time `json:"last_activity"`
	UnreadCount  int64     `json:"unread_count"`
}

type Message struct {
	ID         int64     `json:"id"`
	ThreadID   int64     `json:"thread_id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
	Payload    Payload   `json:"-"`
}

// DecryptedMessage is what the read path hands back to a client.
type DecryptedMessage struct {
	ID            int64     `json:"id"`
	SenderID      int64     `json:"sender_id"`
	Timestamp     time.Time `json:"timestamp"`
	Content       string    `json:"content,omitempty"`
	FileURL       string    `json:"file_url,omitempty"`
	IsRead        bool      `json:"is_read"`
	Undecryptable bool      `json:"undecryptable,omitempty"`
}

const EventNewMessage = "new-message"

// NewMessageEvent is pushed to every live connection. It never carries
// message content; clients re-fetch through the decrypting read path.
type NewMessageEvent struct {
	Type       string      `json:"type"`
	ThreadID   int64       `json:"thread_id"`
	MessageID  int64       `json:"message_id"`
	SenderID   int64       `json:"sender_id"`
	ReceiverID int64       `json:"receiver_id"`
	Kind       PayloadKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
}
