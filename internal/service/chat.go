package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"
	"github.com/mikhael221/gighub-realtime/internal/observability/metrics"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/roomcrypto"
	"github.com/mikhael221/gighub-realtime/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewConversation is the sentinel conversation id a client sends on the
// first message to a user it has never chatted with.
const NewConversation = "new"

// ChatService implements conversation resolution, at-rest encrypted message
// storage and the live chat event fan-out.
type ChatService struct {
	store        *store.Store
	presence     *realtime.Presence
	groups       *realtime.Groups
	masterSecret []byte
	logger       *slog.Logger
	now          func() time.Time
}

func NewChatService(st *store.Store, presence *realtime.Presence, groups *realtime.Groups, masterSecret []byte, logger *slog.Logger) *ChatService {
	return &ChatService{
		store:        st,
		presence:     presence,
		groups:       groups,
		masterSecret: masterSecret,
		logger:       logger.With(slog.String("component", "chat")),
		now:          time.Now,
	}
}

// ResolveExisting returns the conversation only when the requester is a
// participant and the room is active. "No such room" and "not yours" are
// deliberately the same error so existence never leaks.
func (s *ChatService) ResolveExisting(ctx context.Context, convID domain.ConversationID, requesterID domain.UserID) (*domain.Conversation, error) {
	conv, err := s.store.Conversations().GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domain.ErrAccessDenied
		}
		return nil, err
	}
	if !conv.IsActive || !conv.HasParticipant(requesterID) {
		return nil, domain.ErrAccessDenied
	}
	return conv, nil
}

// findOrCreateGeneral resolves the active general conversation for an
// unordered pair, creating it on first contact. The unique index on the
// participant pair closes the find-then-create race: a concurrent creator
// wins the insert and the loser re-reads the winner's row.
func (s *ChatService) findOrCreateGeneral(ctx context.Context, a, b domain.UserID) (*domain.Conversation, bool, error) {
	convs := s.store.Conversations()
	conv, err := convs.FindActiveGeneral(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	fresh := &domain.Conversation{
		ID:             uuid.New(),
		User1ID:        a,
		User2ID:        b,
		Type:           domain.ConversationGeneral,
		CreatedAt:      now,
		LastActivityAt: &now,
		IsActive:       true,
	}
	if err := convs.Create(ctx, fresh); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, lookupErr := convs.FindActiveGeneral(ctx, a, b)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return fresh, true, nil
}

type SendMessageInput struct {
	// ConversationID is either an existing conversation id or
	// NewConversation, in which case TargetUserID must be set.
	ConversationID string
	SenderID       domain.UserID
	SenderConn     realtime.Conn // nil for non-websocket callers
	Text           string
	Type           string
	TargetUserID   *domain.UserID
}

type SendFileInput struct {
	ConversationID domain.ConversationID
	SenderID       domain.UserID
	SenderConn     realtime.Conn
	FileName       string
	FileURL        string
	FileSize       int64
	FileType       string
}

// SendMessage resolves the conversation (lazily creating it on first
// contact), persists the ciphertext, and broadcasts the plaintext to the
// live conversation group. The counterparty's unread count is republished
// on their personal channel.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidRequest)
	}
	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageText
	}

	sender, err := s.store.Users().GetByID(ctx, in.SenderID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown sender", domain.ErrInvalidRequest)
		}
		return nil, err
	}

	conv, created, err := s.resolveForSend(ctx, in)
	if err != nil {
		return nil, err
	}

	key := roomcrypto.DeriveRoomKey(s.masterSecret, conv.ID.String())
	payload, err := roomcrypto.Encrypt(in.Text, key)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Payload:        payload,
		Type:           msgType,
		SentAt:         now,
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.Conversations().TouchActivity(ctx, conv.ID, now); err != nil {
		s.logger.Warn("touch activity failed", "conversation_id", conv.ID, "error", err)
	}
	metrics.MessagesStoredTotal.WithLabelValues(msgType).Inc()

	groupKey := realtime.ConversationGroup(conv.ID)
	if created {
		s.joinParticipants(conv, in.SenderConn, groupKey)
		if in.SenderConn != nil {
			_ = in.SenderConn.Send(realtime.Event{
				Name: EvConversationCreated,
				Data: ConversationCreatedData{ConversationID: conv.ID},
			})
		}
	}

	// Live delivery carries the plaintext; encryption protects the stored
	// payload only, the transport is assumed secure.
	s.groups.Publish(groupKey, realtime.Event{Name: EvReceivedMessage, Data: MessageData{
		ID:             msg.ID,
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		SenderName:     sender.FullName(),
		Message:        in.Text,
		MessageType:    msgType,
		SentAt:         msg.SentAt,
	}}, nil)

	s.publishConversationUnread(ctx, conv, conv.OtherParticipant(in.SenderID))
	return msg, nil
}

// SendFile behaves like SendMessage for file attachments: the filename is
// what gets encrypted at rest, and the live event carries the file
// metadata plus the original name.
func (s *ChatService) SendFile(ctx context.Context, in SendFileInput) (*domain.Message, error) {
	if strings.TrimSpace(in.FileName) == "" || strings.TrimSpace(in.FileURL) == "" {
		return nil, fmt.Errorf("%w: missing file metadata", domain.ErrInvalidRequest)
	}

	sender, err := s.store.Users().GetByID(ctx, in.SenderID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown sender", domain.ErrInvalidRequest)
		}
		return nil, err
	}

	conv, err := s.ResolveExisting(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}

	key := roomcrypto.DeriveRoomKey(s.masterSecret, conv.ID.String())
	payload, err := roomcrypto.Encrypt(in.FileName, key)
	if err != nil {
		return nil, err
	}

	msgType := classifyFile(in.FileType, in.FileName)
	now := s.now().UTC()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Payload:        payload,
		Type:           msgType,
		FileURL:        &in.FileURL,
		FileType:       &in.FileType,
		FileSize:       &in.FileSize,
		SentAt:         now,
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.Conversations().TouchActivity(ctx, conv.ID, now); err != nil {
		s.logger.Warn("touch activity failed", "conversation_id", conv.ID, "error", err)
	}
	metrics.MessagesStoredTotal.WithLabelValues(msgType).Inc()

	s.groups.Publish(realtime.ConversationGroup(conv.ID), realtime.Event{Name: EvReceivedFile, Data: MessageData{
		ID:             msg.ID,
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		SenderName:     sender.FullName(),
		Message:        in.FileName,
		MessageType:    msgType,
		FileName:       in.FileName,
		FileURL:        in.FileURL,
		FileType:       in.FileType,
		FileSize:       in.FileSize,
		SentAt:         msg.SentAt,
	}}, nil)

	s.publishConversationUnread(ctx, conv, conv.OtherParticipant(in.SenderID))
	return msg, nil
}

// MarkRead flips every unread message not sent by the reader and tells the
// rest of the room about it.
func (s *ChatService) MarkRead(ctx context.Context, convID domain.ConversationID, readerID domain.UserID) ([]domain.Message, error) {
	conv, err := s.ResolveExisting(ctx, convID, readerID)
	if err != nil {
		return nil, err
	}

	affected, err := s.store.Messages().MarkRead(ctx, conv.ID, readerID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(affected))
	for i := range affected {
		ids = append(ids, affected[i].ID)
	}

	var readerConn realtime.Conn
	if conn, ok := s.presence.Lookup(readerID); ok {
		readerConn = conn
	}
	s.groups.Publish(realtime.ConversationGroup(conv.ID), realtime.Event{Name: EvMessagesMarkedRead, Data: MarkedReadData{
		ConversationID: conv.ID,
		ReadByID:       readerID,
		MessageIDs:     ids,
	}}, readerConn)

	s.publishConversationUnread(ctx, conv, readerID)
	return affected, nil
}

// SetTyping forwards a typing indicator to the rest of the room. Failures
// are swallowed: a typing blip is never worth an error event.
func (s *ChatService) SetTyping(ctx context.Context, convID domain.ConversationID, userID domain.UserID, conn realtime.Conn, isTyping bool) {
	conv, err := s.ResolveExisting(ctx, convID, userID)
	if err != nil {
		return
	}
	name := ""
	if user, err := s.store.Users().GetByID(ctx, userID); err == nil {
		name = user.FullName()
	}
	s.groups.Publish(realtime.ConversationGroup(conv.ID), realtime.Event{Name: EvTypingChanged, Data: TypingData{
		ConversationID: conv.ID,
		UserID:         userID,
		UserName:       name,
		IsTyping:       isTyping,
	}}, conn)
}

// History returns a decrypted page of the conversation. Messages that no
// longer decrypt (rotated master secret, corrupt payload) are flagged and
// returned with a placeholder body instead of failing the batch.
func (s *ChatService) History(ctx context.Context, convID domain.ConversationID, requesterID domain.UserID, page, size int) ([]MessageData, error) {
	conv, err := s.ResolveExisting(ctx, convID, requesterID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.Messages().ListPage(ctx, conv.ID, page, size)
	if err != nil {
		return nil, err
	}

	key := roomcrypto.DeriveRoomKey(s.masterSecret, conv.ID.String())
	out := make([]MessageData, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		data := MessageData{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			MessageType:    m.Type,
			SentAt:         m.SentAt,
			IsRead:         m.IsRead,
		}
		if m.FileURL != nil {
			data.FileURL = *m.FileURL
		}
		if m.FileType != nil {
			data.FileType = *m.FileType
		}
		if m.FileSize != nil {
			data.FileSize = *m.FileSize
		}
		switch m.Type {
		case domain.MessageSystem:
			// System messages are written by the server and stored plaintext.
			data.Message = m.Payload
		default:
			text, err := roomcrypto.Decrypt(m.Payload, key)
			if err != nil {
				s.logger.Warn("undecryptable message skipped", "message_id", m.ID, "conversation_id", conv.ID)
				data.Message = "[unreadable message]"
				data.Unreadable = true
			} else {
				data.Message = text
				if m.Type != domain.MessageText {
					data.FileName = text
				}
			}
		}
		out = append(out, data)
	}
	return out, nil
}

// UnreadCount reports how many messages the user has not read in the
// conversation.
func (s *ChatService) UnreadCount(ctx context.Context, convID domain.ConversationID, userID domain.UserID) (int64, error) {
	conv, err := s.ResolveExisting(ctx, convID, userID)
	if err != nil {
		return 0, err
	}
	return s.store.Messages().UnreadCount(ctx, conv.ID, userID)
}

func (s *ChatService) resolveForSend(ctx context.Context, in SendMessageInput) (conv *domain.Conversation, created bool, err error) {
	if in.ConversationID == NewConversation {
		if in.TargetUserID == nil {
			return nil, false, fmt.Errorf("%w: target user required for new conversation", domain.ErrInvalidRequest)
		}
		if *in.TargetUserID == in.SenderID {
			return nil, false, fmt.Errorf("%w: cannot message yourself", domain.ErrInvalidRequest)
		}
		if _, err := s.store.Users().GetByID(ctx, *in.TargetUserID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, false, fmt.Errorf("%w: unknown target user", domain.ErrInvalidRequest)
			}
			return nil, false, err
		}
		return s.findOrCreateGeneral(ctx, in.SenderID, *in.TargetUserID)
	}

	id, parseErr := uuid.Parse(in.ConversationID)
	if parseErr != nil {
		return nil, false, fmt.Errorf("%w: invalid conversation id", domain.ErrInvalidRequest)
	}
	conv, err = s.ResolveExisting(ctx, id, in.SenderID)
	return conv, false, err
}

// joinParticipants subscribes both parties' live connections to a freshly
// created conversation group so the first message reaches them without an
// explicit join round-trip.
func (s *ChatService) joinParticipants(conv *domain.Conversation, senderConn realtime.Conn, groupKey string) {
	if senderConn != nil {
		s.groups.Join(groupKey, senderConn)
	}
	for _, userID := range []domain.UserID{conv.User1ID, conv.User2ID} {
		if conn, ok := s.presence.Lookup(userID); ok {
			s.groups.Join(groupKey, conn)
		}
	}
}

func (s *ChatService) publishConversationUnread(ctx context.Context, conv *domain.Conversation, userID domain.UserID) {
	count, err := s.store.Messages().UnreadCount(ctx, conv.ID, userID)
	if err != nil {
		s.logger.Warn("unread count failed", "conversation_id", conv.ID, "user_id", userID, "error", err)
		return
	}
	convID := conv.ID
	publishToUser(s.presence, s.groups, userID, realtime.Event{Name: EvUnreadCountUpdated, Data: UnreadCountData{
		Scope:          "conversation",
		ConversationID: &convID,
		Count:          count,
	}})
}

// classifyFile infers the stored message type from the MIME type, falling
// back to the file extension.
func classifyFile(fileType, fileName string) string {
	if fileType != "" {
		switch {
		case strings.HasPrefix(fileType, "image/"):
			return domain.MessageImage
		case strings.HasPrefix(fileType, "video/"):
			return domain.MessageVideo
		}
		return domain.MessageFile
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return domain.MessageImage
	case ".mp4", ".mov", ".avi", ".wmv", ".flv", ".webm":
		return domain.MessageVideo
	}
	return domain.MessageFile
}
