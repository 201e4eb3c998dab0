package domain

import "github.com/google/uuid"

type UserID = uuid.UUID
type ConversationID = uuid.UUID
type MessageID = uuid.UUID
type NotificationID = uuid.UUID
