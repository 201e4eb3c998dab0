package service

import (
	"context"
	"testing"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/roomcrypto"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSendMessageLazilyCreatesConversation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, bobConn := fx.online(t, "Bob", "Burke")

	msg, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation,
		SenderID:       alice,
		SenderConn:     aliceConn,
		Text:           "hello bob",
		TargetUserID:   &bob,
	})
	require.NoError(t, err)

	conv, err := fx.store.Conversations().FindActiveGeneral(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, msg.ConversationID)

	// The sender learns the new conversation id.
	ev, ok := aliceConn.lastOf(EvConversationCreated)
	require.True(t, ok)
	assert.Equal(t, conv.ID, ev.Data.(ConversationCreatedData).ConversationID)

	// Both live parties were auto-joined and got the plaintext broadcast.
	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		ev, ok := conn.lastOf(EvReceivedMessage)
		require.True(t, ok)
		data := ev.Data.(MessageData)
		assert.Equal(t, "hello bob", data.Message)
		assert.Equal(t, "Alice Ames", data.SenderName)
	}
	assert.True(t, fx.groups.Contains(realtime.ConversationGroup(conv.ID), bobConn))

	// The counterparty's unread count was pushed.
	ev, ok = bobConn.lastOf(EvUnreadCountUpdated)
	require.True(t, ok)
	assert.EqualValues(t, 1, ev.Data.(UnreadCountData).Count)

	// The stored payload is ciphertext, not the plaintext.
	stored, err := fx.store.Messages().ListPage(ctx, conv.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "hello bob", stored[0].Payload)
	key := roomcrypto.DeriveRoomKey([]byte("test-master-secret"), conv.ID.String())
	plain, err := roomcrypto.Decrypt(stored[0].Payload, key)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", plain)
}

func TestSendMessageReusesExistingConversation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, _ := fx.online(t, "Bob", "Burke")

	first, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "one", TargetUserID: &bob,
	})
	require.NoError(t, err)
	aliceConn.reset()

	// A second "new" send for the same pair lands in the same room, in
	// either direction.
	second, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: bob, Text: "two", TargetUserID: &alice,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	_, created := aliceConn.lastOf(EvConversationCreated)
	assert.False(t, created)
}

func TestFindOrCreateRetriesOnDuplicate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice := fx.user(t, "Alice", "Ames")
	bob := fx.user(t, "Bob", "Burke")

	conv1, created, err := fx.chat.findOrCreateGeneral(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, created)

	conv2, created, err := fx.chat.findOrCreateGeneral(ctx, bob, alice)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv1.ID, conv2.ID)
}

func TestFindOrCreateLosesRaceToConcurrentCreator(t *testing.T) {
	// Shared-cache DSN so the competing insert can commit on its own
	// connection while the loser's transaction is open.
	fx := newFixtureDSN(t, "file:findorcreate_race?mode=memory&cache=shared")
	ctx := context.Background()
	alice := fx.user(t, "Alice", "Ames")
	bob := fx.user(t, "Bob", "Burke")

	// Simulate a concurrent creator winning the window between the lookup
	// and the insert: just before the insert runs, slip the competing row
	// in so the insert hits the unique pair index.
	var winnerID uuid.UUID
	var fired bool
	err := fx.store.DB.Callback().Create().Before("gorm:create").Register("concurrent_winner", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*domain.Conversation); !ok || fired {
			return
		}
		fired = true
		winner := &domain.Conversation{
			ID:              uuid.New(),
			User1ID:         bob,
			User2ID:         alice,
			Type:            domain.ConversationGeneral,
			ParticipantPair: domain.PairKey(alice, bob),
			CreatedAt:       time.Now().UTC(),
			IsActive:        true,
		}
		require.NoError(t, fx.store.DB.Create(winner).Error)
		winnerID = winner.ID
	})
	require.NoError(t, err)

	conv, created, err := fx.chat.findOrCreateGeneral(ctx, alice, bob)
	require.NoError(t, err)
	require.True(t, fired, "competing insert never ran")
	assert.False(t, created)
	assert.Equal(t, winnerID, conv.ID, "loser must adopt the winner's conversation")

	// Exactly one active general room for the pair survives the race.
	var count int64
	require.NoError(t, fx.store.DB.Model(&domain.Conversation{}).
		Where("participant_pair = ? AND is_active", domain.PairKey(alice, bob)).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSendMessageValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, _ := fx.online(t, "Alice", "Ames")
	bob := fx.user(t, "Bob", "Burke")

	cases := []struct {
		name string
		in   SendMessageInput
		want error
	}{
		{"empty text", SendMessageInput{ConversationID: NewConversation, SenderID: alice, Text: "  ", TargetUserID: &bob}, domain.ErrInvalidRequest},
		{"new without target", SendMessageInput{ConversationID: NewConversation, SenderID: alice, Text: "hi"}, domain.ErrInvalidRequest},
		{"self target", SendMessageInput{ConversationID: NewConversation, SenderID: alice, Text: "hi", TargetUserID: &alice}, domain.ErrInvalidRequest},
		{"garbage conversation id", SendMessageInput{ConversationID: "nope", SenderID: alice, Text: "hi"}, domain.ErrInvalidRequest},
		{"unknown conversation", SendMessageInput{ConversationID: uuid.NewString(), SenderID: alice, Text: "hi"}, domain.ErrAccessDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.chat.SendMessage(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSendMessageDeniedForOutsider(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, _ := fx.online(t, "Bob", "Burke")
	mallory, _ := fx.online(t, "Mallory", "Mars")

	msg, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "private", TargetUserID: &bob,
	})
	require.NoError(t, err)

	_, err = fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: msg.ConversationID.String(), SenderID: mallory, Text: "let me in",
	})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = fx.chat.History(ctx, msg.ConversationID, mallory, 1, 10)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestHistoryFlagsUndecryptableMessages(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, _ := fx.online(t, "Bob", "Burke")

	good, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "readable", TargetUserID: &bob,
	})
	require.NoError(t, err)
	bad, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: good.ConversationID.String(), SenderID: alice, SenderConn: aliceConn, Text: "doomed",
	})
	require.NoError(t, err)

	// Corrupt one stored payload, as a key rotation would.
	err = fx.store.DB.Model(&domain.Message{}).Where("id = ?", bad.ID).
		Update("payload", "bm90IGEgcmVhbCBjaXBoZXJ0ZXh0IGF0IGFsbCE=").Error
	require.NoError(t, err)

	page, err := fx.chat.History(ctx, good.ConversationID, bob, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "readable", page[0].Message)
	assert.False(t, page[0].Unreadable)
	assert.True(t, page[1].Unreadable)
	assert.Equal(t, "[unreadable message]", page[1].Message)
}

func TestMarkReadExcludesReaderAndRepublishesCount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, bobConn := fx.online(t, "Bob", "Burke")

	msg, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "hello", TargetUserID: &bob,
	})
	require.NoError(t, err)
	aliceConn.reset()
	bobConn.reset()

	affected, err := fx.chat.MarkRead(ctx, msg.ConversationID, bob)
	require.NoError(t, err)
	require.Len(t, affected, 1)

	// The sender sees the receipt; the reader does not get an echo.
	ev, ok := aliceConn.lastOf(EvMessagesMarkedRead)
	require.True(t, ok)
	data := ev.Data.(MarkedReadData)
	assert.Equal(t, bob, data.ReadByID)
	require.Len(t, data.MessageIDs, 1)
	assert.Equal(t, msg.ID, data.MessageIDs[0])
	_, echoed := bobConn.lastOf(EvMessagesMarkedRead)
	assert.False(t, echoed)

	// The reader's count drops to zero on their personal channel.
	ev, ok = bobConn.lastOf(EvUnreadCountUpdated)
	require.True(t, ok)
	assert.Zero(t, ev.Data.(UnreadCountData).Count)

	// Nothing left to flip.
	affected, err = fx.chat.MarkRead(ctx, msg.ConversationID, bob)
	require.NoError(t, err)
	assert.Empty(t, affected)
}

func TestSetTypingSilentOnDenied(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, bobConn := fx.online(t, "Bob", "Burke")
	mallory, malloryConn := fx.online(t, "Mallory", "Mars")

	msg, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "hello", TargetUserID: &bob,
	})
	require.NoError(t, err)
	aliceConn.reset()
	bobConn.reset()

	fx.chat.SetTyping(ctx, msg.ConversationID, alice, aliceConn, true)
	ev, ok := bobConn.lastOf(EvTypingChanged)
	require.True(t, ok)
	assert.True(t, ev.Data.(TypingData).IsTyping)
	assert.Empty(t, aliceConn.received())

	// An outsider typing into a foreign room produces nothing at all.
	bobConn.reset()
	fx.chat.SetTyping(ctx, msg.ConversationID, mallory, malloryConn, true)
	assert.Empty(t, bobConn.received())
	assert.Empty(t, malloryConn.received())
}

func TestSendFileClassifiesAndEncryptsName(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, bobConn := fx.online(t, "Bob", "Burke")

	first, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "incoming file", TargetUserID: &bob,
	})
	require.NoError(t, err)
	bobConn.reset()

	msg, err := fx.chat.SendFile(ctx, SendFileInput{
		ConversationID: first.ConversationID,
		SenderID:       alice,
		SenderConn:     aliceConn,
		FileName:       "contract.pdf",
		FileURL:        "https://files.example.com/contract.pdf",
		FileSize:       4096,
		FileType:       "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageFile, msg.Type)
	assert.NotEqual(t, "contract.pdf", msg.Payload)

	ev, ok := bobConn.lastOf(EvReceivedFile)
	require.True(t, ok)
	data := ev.Data.(MessageData)
	assert.Equal(t, "contract.pdf", data.FileName)
	assert.Equal(t, "https://files.example.com/contract.pdf", data.FileURL)
}

func TestClassifyFile(t *testing.T) {
	cases := []struct {
		mime, name, want string
	}{
		{"image/png", "x.bin", domain.MessageImage},
		{"video/mp4", "x.bin", domain.MessageVideo},
		{"application/pdf", "x.png", domain.MessageFile},
		{"", "photo.JPG", domain.MessageImage},
		{"", "clip.webm", domain.MessageVideo},
		{"", "doc.pdf", domain.MessageFile},
		{"", "noext", domain.MessageFile},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyFile(tc.mime, tc.name), "mime=%q name=%q", tc.mime, tc.name)
	}
}

func TestSendMessageToDeactivatedConversation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := fx.online(t, "Alice", "Ames")
	bob, _ := fx.online(t, "Bob", "Burke")

	msg, err := fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: NewConversation, SenderID: alice, SenderConn: aliceConn, Text: "hello", TargetUserID: &bob,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.Conversations().Deactivate(ctx, msg.ConversationID))

	_, err = fx.chat.SendMessage(ctx, SendMessageInput{
		ConversationID: msg.ConversationID.String(), SenderID: alice, Text: "anyone there",
	})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}
