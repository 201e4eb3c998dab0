package service

import (
	"time"

	"github.com/mikhael221/gighub-realtime/internal/realtime"

	"github.com/google/uuid"
)

// Outbound live event names. Live delivery is a best-effort accelerant;
// persisted rows are what clients re-sync from after a reconnect.
const (
	EvConversationCreated = "conversation_created"
	EvReceivedMessage     = "received_message"
	EvReceivedFile        = "received_file"
	EvMessagesMarkedRead  = "messages_marked_read"
	EvTypingChanged       = "typing_changed"
	EvCallRequested       = "call_requested"
	EvIncomingCall        = "incoming_call"
	EvCallAccepted        = "call_accepted"
	EvCallDeclined        = "call_declined"
	EvCallEnded           = "call_ended"
	EvOffer               = "offer"
	EvAnswer              = "answer"
	EvIceCandidate        = "ice_candidate"
	EvNotificationPushed  = "notification_pushed"
	EvUnreadCountUpdated  = "unread_count_updated"
	EvOperationError      = "operation_error"
)

type ConversationCreatedData struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type MessageData struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Message        string    `json:"message"`
	MessageType    string    `json:"messageType"`
	FileName       string    `json:"fileName,omitempty"`
	FileURL        string    `json:"fileUrl,omitempty"`
	FileType       string    `json:"fileType,omitempty"`
	FileSize       int64     `json:"fileSize,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	IsRead         bool      `json:"isRead"`
	Unreadable     bool      `json:"unreadable,omitempty"`
}

type MarkedReadData struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	ReadByID       uuid.UUID   `json:"readById"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
}

type TypingData struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	UserName       string    `json:"userName"`
	IsTyping       bool      `json:"isTyping"`
}

type CallRequestedData struct {
	ChannelID   string    `json:"channelId"`
	CallerID    uuid.UUID `json:"callerId"`
	CallerName  string    `json:"callerName"`
	CallerPhoto string    `json:"callerPhoto,omitempty"`
	IsTemporary bool      `json:"isTemporary"`
}

type IncomingCallData struct {
	ChannelID   string    `json:"channelId"`
	CallerID    uuid.UUID `json:"callerId"`
	CallerName  string    `json:"callerName"`
	CallerPhoto string    `json:"callerPhoto,omitempty"`
}

type CallAcceptedData struct {
	ConversationID uuid.UUID `json:"conversationId"`
	AccepterID     uuid.UUID `json:"accepterId"`
}

type CallDeclinedData struct {
	ChannelID  string    `json:"channelId"`
	DeclinerID uuid.UUID `json:"declinerId"`
}

type CallEndedData struct {
	ConversationID uuid.UUID `json:"conversationId"`
	EndedByID      uuid.UUID `json:"endedById"`
}

type SignalData struct {
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	Payload        string    `json:"payload"`
}

type NotificationData struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	RelatedURL string    `json:"relatedUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type UnreadCountData struct {
	Scope          string     `json:"scope"` // "conversation" or "notifications"
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Count          int64      `json:"count"`
}

// publishToUser delivers an event to a user's personal channel, falling
// back to their presence handle when they have not joined the channel yet.
// Offline users silently miss the event.
func publishToUser(presence *realtime.Presence, groups *realtime.Groups, userID uuid.UUID, ev realtime.Event) {
	key := realtime.UserGroup(userID)
	if groups.MemberCount(key) > 0 {
		groups.Publish(key, ev, nil)
		return
	}
	if conn, ok := presence.Lookup(userID); ok {
		_ = conn.Send(ev)
	}
}
