package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textPayload(tag string) models.Payload {
	return models.NewTextPayload(&models.Envelope{
		Ciphertext:             []byte("ct-" + tag),
		Nonce:                  []byte("123456789012"),
		WrappedKeySender:       []byte("ks-" + tag),
		WrappedKeyReceiver:     []byte("kr-" + tag),
		SenderKeyFingerprint:   "fp-s",
		ReceiverKeyFingerprint: "fp-r",
	})
}

func TestAppendAndListMessages(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")
	thread, err := testStore.FindOrCreateThread(ctx, a.ID, b.ID)
	require.NoError(t, err)

	first := &models.Message{ThreadID: thread.ID, SenderID: a.ID, ReceiverID: b.ID, Payload: textPayload("1")}
	require.NoError(t, testStore.AppendMessage(ctx, first, "preview 1"))
	assert.NotZero(t, first.ID)

	second := &models.Message{ThreadID: thread.ID, SenderID: b.ID, ReceiverID: a.ID, Payload: models.NewFilePayload("/files/abc")}
	require.NoError(t, testStore.AppendMessage(ctx, second, "preview 2"))

	messages, err := testStore.ListMessagesByThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	text, ok := messages[0].Payload.(models.TextPayload)
	require.True(t, ok)
	assert.Equal(t, []byte("ct-1"), text.Envelope.Ciphertext)
	assert.Equal(t, []byte("kr-1"), text.Envelope.WrappedKeyReceiver)
	assert.Equal(t, "fp-s", text.Envelope.SenderKeyFingerprint)

	file, ok := messages[1].Payload.(models.FilePayload)
	require.True(t, ok)
	assert.Equal(t, "/files/abc", file.URL)
	assert.Equal(t, b.ID, messages[1].SenderID)

	byPair, err := testStore.ListMessagesByParticipants(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, messages, byPair)

	updated, err := testStore.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "preview 2", updated.LastMessagePreview)
}

func TestAppendMessageValidation(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")
	c := createTestUser(t, "c@example.com", "3333333")
	thread, err := testStore.FindOrCreateThread(ctx, a.ID, b.ID)
	require.NoError(t, err)

	err = testStore.AppendMessage(ctx, &models.Message{ThreadID: thread.ID, SenderID: a.ID, ReceiverID: b.ID}, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	err = testStore.AppendMessage(ctx, &models.Message{ThreadID: thread.ID, SenderID: a.ID, ReceiverID: c.ID, Payload: textPayload("x")}, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	err = testStore.AppendMessage(ctx, &models.Message{ThreadID: 999, SenderID: a.ID, ReceiverID: b.ID, Payload: textPayload("x")}, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	messages, err := testStore.ListMessagesByThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAppendMessageDoesNotRewindPreview(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")
	thread, err := testStore.FindOrCreateThread(ctx, a.ID, b.ID)
	require.NoError(t, err)

	late := time.Now().UTC().Add(time.Hour)
	testStore.now = func() time.Time { return late }
	require.NoError(t, testStore.AppendMessage(ctx, &models.Message{ThreadID: thread.ID, SenderID: a.ID, ReceiverID: b.ID, Payload: textPayload("new")}, "newer"))

	// A slow append stamped before the latest one must not clobber its preview.
	testStore.now = func() time.Time { return late.Add(-time.Minute) }
	require.NoError(t, testStore.AppendMessage(ctx, &models.Message{ThreadID: thread.ID, SenderID: b.ID, ReceiverID: a.ID, Payload: textPayload("old")}, "older"))

	updated, err := testStore.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "newer", updated.LastMessagePreview)
	assert.True(t, updated.LastActivity.Equal(late))

	messages, err := testStore.ListMessagesByThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestListMessagesByParticipantsWithoutThread(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")

	messages, err := testStore.ListMessagesByParticipants(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMarkRead(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")
	thread, err := testStore.FindOrCreateThread(ctx, a.ID, b.ID)
	require.NoError(t, err)

	msg := &models.Message{ThreadID: thread.ID, SenderID: a.ID, ReceiverID: b.ID, Payload: textPayload("1")}
	require.NoError(t, testStore.AppendMessage(ctx, msg, "p"))

	// The sender cannot mark its own message read.
	assert.ErrorIs(t, testStore.MarkRead(ctx, msg.ID, a.ID), apperr.ErrNotFound)
	require.NoError(t, testStore.MarkRead(ctx, msg.ID, b.ID))

	messages, err := testStore.ListMessagesByThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.True(t, messages[0].IsRead)
}

func TestFileAccessible(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")
	c := createTestUser(t, "c@example.com", "3333333")
	thread, err := testStore.FindOrCreateThread(ctx, a.ID, b.ID)
	require.NoError(t, err)
	msg := &models.Message{ThreadID: thread.ID, SenderID: a.ID, ReceiverID: b.ID, Payload: models.NewFilePayload("/files/shared")}
	require.NoError(t, testStore.AppendMessage(ctx, msg, "File: shared"))

	for _, tc := range []struct {
		name string
		url  string
		user int64
		want bool
	}{
		{"sender", "/files/shared", a.ID, true},
		{"receiver", "/files/shared", b.ID, true},
		{"outsider", "/files/shared", c.ID, false},
		{"unknown file", "/files/other", a.ID, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := testStore.FileAccessible(ctx, tc.url, tc.user)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}
