package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateThreadIsSymmetric(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")

	t1, err := testStore.FindOrCreateThread(ctx, a.ID, b.ID)
	require.NoError(t, err)
	t2, err := testStore.FindOrCreateThread(ctx, b.ID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, t1.ID, t2.ID)
	assert.Equal(t, a.ID, t1.ParticipantA)
	assert.Equal(t, b.ID, t1.ParticipantB)
	assert.Empty(t, t1.LastMessagePreview)
}

func TestFindOrCreateThreadConcurrent(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")
	b := createTestUser(t, "b@example.com", "2222222")

	const n = 20
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a.ID, b.ID
			if i%2 == 1 {
				x, y = y, x
			}
			th, err := testStore.FindOrCreateThread(ctx, x, y)
			if assert.NoError(t, err) {
				ids[i] = th.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int
	require.NoError(t, testStore.db.QueryRow("SELECT COUNT(*) FROM threads").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestFindOrCreateThreadRejectsBadPairs(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	a := createTestUser(t, "a@example.com", "1111111")

	_, err := testStore.FindOrCreateThread(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = testStore.FindOrCreateThread(ctx, a.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestListThreadsForUserOrdersByActivity(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	me := createTestUser(t, "me@example.com", "1111111")
	bob := createTestUser(t, "bob@example.com", "2222222")
	carol := createTestUser(t, "carol@example.com", "3333333")

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	testStore.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	withBob, err := testStore.FindOrCreateThread(ctx, me.ID, bob.ID)
	require.NoError(t, err)
	withCarol, err := testStore.FindOrCreateThread(ctx, carol.ID, me.ID)
	require.NoError(t, err)

	require.NoError(t, testStore.AppendMessage(ctx, &models.Message{
		ThreadID: withBob.ID, SenderID: bob.ID, ReceiverID: me.ID,
		Payload: models.NewFilePayload("/files/1"),
	}, "file from bob"))

	threads, err := testStore.ListThreadsForUser(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, withBob.ID, threads[0].ThreadID)
	assert.Equal(t, bob.ID, threads[0].OtherParty)
	assert.Equal(t, "bob@example.com", threads[0].OtherEmail)
	assert.Equal(t, "file from bob", threads[0].Preview)
	assert.Equal(t, withCarol.ID, threads[1].ThreadID)
	assert.Equal(t, carol.ID, threads[1].OtherParty)

	none, err := testStore.ListThreadsForUser(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListThreadsForUserUnreadCount(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	me := createTestUser(t, "me@example.com", "1111111")
	bob := createTestUser(t, "bob@example.com", "2222222")
	thread, err := testStore.FindOrCreateThread(ctx, me.ID, bob.ID)
	require.NoError(t, err)

	var fromBob []*models.Message
	for i := 0; i < 2; i++ {
		msg := &models.Message{ThreadID: thread.ID, SenderID: bob.ID, ReceiverID: me.ID, Payload: models.NewFilePayload("/files/x")}
		require.NoError(t, testStore.AppendMessage(ctx, msg, "p"))
		fromBob = append(fromBob, msg)
	}
	require.NoError(t, testStore.AppendMessage(ctx, &models.Message{
		ThreadID: thread.ID, SenderID: me.ID, ReceiverID: bob.ID, Payload: models.NewFilePayload("/files/y"),
	}, "p"))

	mine, err := testStore.ListThreadsForUser(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(2), mine[0].UnreadCount)

	theirs, err := testStore.ListThreadsForUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), theirs[0].UnreadCount)

	require.NoError(t, testStore.MarkRead(ctx, fromBob[0].ID, me.ID))
	mine, err = testStore.ListThreadsForUser(ctx, me.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine[0].UnreadCount)
}
