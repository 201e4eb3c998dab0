package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"
	"github.com/mikhael221/gighub-realtime/internal/observability/metrics"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/store"

	"github.com/google/uuid"
)

// TempChannelPrefix marks a call channel that has no backing conversation
// yet. The conversation is materialized when the callee accepts.
const TempChannelPrefix = "temp_"

// Signal relay kinds.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalIceCandidate = "ice_candidate"
)

type callSession struct {
	ChannelID string
	CallerID  domain.UserID
	CalleeID  domain.UserID
	Accepted  bool
	StartedAt time.Time
}

// CallService runs the call signaling state machine. Sessions are in-memory
// only; a restart drops ringing calls, which clients treat as a decline.
type CallService struct {
	store    *store.Store
	presence *realtime.Presence
	groups   *realtime.Groups
	chat     *ChatService
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*callSession // keyed by channel id
}

func NewCallService(st *store.Store, presence *realtime.Presence, groups *realtime.Groups, chat *ChatService, logger *slog.Logger) *CallService {
	return &CallService{
		store:    st,
		presence: presence,
		groups:   groups,
		chat:     chat,
		logger:   logger.With(slog.String("component", "call")),
		now:      time.Now,
		sessions: make(map[string]*callSession),
	}
}

// Start rings the counterparty. For a temporary channel (no conversation
// yet) only the caller gets the echo; the callee learns about the call via
// their personal channel. At most one live session may exist per channel.
func (s *CallService) Start(ctx context.Context, channelID string, callerID domain.UserID, calleeID domain.UserID, callerConn realtime.Conn) error {
	caller, err := s.store.Users().GetByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: unknown caller", domain.ErrInvalidRequest)
		}
		return err
	}

	temporary := strings.HasPrefix(channelID, TempChannelPrefix)
	if temporary {
		if calleeID == uuid.Nil {
			return fmt.Errorf("%w: target user required for temporary call", domain.ErrInvalidRequest)
		}
		if calleeID == callerID {
			return fmt.Errorf("%w: cannot call yourself", domain.ErrInvalidRequest)
		}
		if _, err := s.store.Users().GetByID(ctx, calleeID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("%w: unknown target user", domain.ErrInvalidRequest)
			}
			return err
		}
	} else {
		convID, parseErr := uuid.Parse(channelID)
		if parseErr != nil {
			return fmt.Errorf("%w: invalid channel id", domain.ErrInvalidRequest)
		}
		conv, err := s.chat.ResolveExisting(ctx, convID, callerID)
		if err != nil {
			return err
		}
		calleeID = conv.OtherParticipant(callerID)
	}

	s.mu.Lock()
	if _, live := s.sessions[channelID]; live {
		s.mu.Unlock()
		return fmt.Errorf("%w: call already in progress", domain.ErrConflictingState)
	}
	s.sessions[channelID] = &callSession{
		ChannelID: channelID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		StartedAt: s.now().UTC(),
	}
	s.mu.Unlock()
	metrics.CallSignalsTotal.WithLabelValues("start").Inc()

	photo := caller.PhotoURL
	requested := realtime.Event{Name: EvCallRequested, Data: CallRequestedData{
		ChannelID:   channelID,
		CallerID:    callerID,
		CallerName:  caller.FullName(),
		CallerPhoto: photo,
		IsTemporary: temporary,
	}}
	incoming := realtime.Event{Name: EvIncomingCall, Data: IncomingCallData{
		ChannelID:   channelID,
		CallerID:    callerID,
		CallerName:  caller.FullName(),
		CallerPhoto: photo,
	}}

	if callerConn != nil {
		_ = callerConn.Send(requested)
	}
	if !temporary {
		s.groups.Publish(realtime.ConversationGroupKey(channelID), incoming, callerConn)
	}
	// The callee may not be subscribed to the conversation group; the
	// personal channel is the reliable ring path either way.
	publishToUser(s.presence, s.groups, calleeID, incoming)
	return nil
}

// Accept transitions a ringing session to connected. Accepting a temporary
// channel materializes the backing conversation, re-keys the session, and
// tells both parties the real conversation id to signal on.
func (s *CallService) Accept(ctx context.Context, channelID string, accepterID domain.UserID, accepterConn realtime.Conn) error {
	s.mu.Lock()
	sess, ok := s.sessions[channelID]
	switch {
	case !ok:
		s.mu.Unlock()
		return fmt.Errorf("%w: no ringing call on channel", domain.ErrConflictingState)
	case sess.Accepted:
		s.mu.Unlock()
		return fmt.Errorf("%w: call already accepted", domain.ErrConflictingState)
	case sess.CallerID == accepterID:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot accept own call", domain.ErrConflictingState)
	case sess.CalleeID != accepterID:
		s.mu.Unlock()
		return domain.ErrAccessDenied
	}
	sess.Accepted = true
	s.mu.Unlock()
	metrics.CallSignalsTotal.WithLabelValues("accept").Inc()

	convID, err := s.materialize(ctx, sess)
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, channelID)
		s.mu.Unlock()
		return err
	}

	if convID.String() != channelID {
		// Re-key so later signal and end operations address the session by
		// the conversation id both sides now use.
		s.mu.Lock()
		delete(s.sessions, channelID)
		sess.ChannelID = convID.String()
		s.sessions[sess.ChannelID] = sess
		s.mu.Unlock()
	}

	groupKey := realtime.ConversationGroup(convID)
	if accepterConn != nil {
		s.groups.Join(groupKey, accepterConn)
	}
	if conn, ok := s.presence.Lookup(sess.CallerID); ok {
		s.groups.Join(groupKey, conn)
	}

	accepted := realtime.Event{Name: EvCallAccepted, Data: CallAcceptedData{
		ConversationID: convID,
		AccepterID:     accepterID,
	}}
	publishToUser(s.presence, s.groups, sess.CallerID, accepted)
	if accepterConn != nil {
		_ = accepterConn.Send(accepted)
	}
	return nil
}

// Decline rejects a ringing call and discards the session. Declining a
// temporary channel never creates a conversation.
func (s *CallService) Decline(ctx context.Context, channelID string, declinerID domain.UserID) error {
	s.mu.Lock()
	sess, ok := s.sessions[channelID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: no ringing call on channel", domain.ErrConflictingState)
	}
	if sess.CalleeID != declinerID {
		s.mu.Unlock()
		return domain.ErrAccessDenied
	}
	delete(s.sessions, channelID)
	s.mu.Unlock()
	metrics.CallSignalsTotal.WithLabelValues("decline").Inc()

	declined := realtime.Event{Name: EvCallDeclined, Data: CallDeclinedData{
		ChannelID:  channelID,
		DeclinerID: declinerID,
	}}
	publishToUser(s.presence, s.groups, sess.CallerID, declined)
	if convID, err := uuid.Parse(channelID); err == nil {
		// Real channels also tell the room, so any other tab of the caller
		// stops ringing.
		var declinerConn realtime.Conn
		if conn, ok := s.presence.Lookup(declinerID); ok {
			declinerConn = conn
		}
		s.groups.Publish(realtime.ConversationGroup(convID), declined, declinerConn)
	}
	return nil
}

// Relay forwards an SDP offer, answer or ICE candidate verbatim to the
// other members of the conversation group. The payload is opaque to the
// server.
func (s *CallService) Relay(ctx context.Context, kind string, convID domain.ConversationID, senderID domain.UserID, senderConn realtime.Conn, payload string) error {
	var event string
	switch kind {
	case SignalOffer:
		event = EvOffer
	case SignalAnswer:
		event = EvAnswer
	case SignalIceCandidate:
		event = EvIceCandidate
	default:
		return fmt.Errorf("%w: unknown signal kind %q", domain.ErrInvalidRequest, kind)
	}
	if _, err := s.chat.ResolveExisting(ctx, convID, senderID); err != nil {
		return err
	}
	metrics.CallSignalsTotal.WithLabelValues(kind).Inc()

	s.groups.Publish(realtime.ConversationGroup(convID), realtime.Event{Name: event, Data: SignalData{
		ConversationID: convID,
		SenderID:       senderID,
		Payload:        payload,
	}}, senderConn)
	return nil
}

// End hangs up a live call. Either party may end; the session is discarded
// and the whole group hears about it, hanger-up included, so all tabs
// tear down their peer connections.
func (s *CallService) End(ctx context.Context, convID domain.ConversationID, enderID domain.UserID) error {
	channelID := convID.String()
	s.mu.Lock()
	sess, ok := s.sessions[channelID]
	if ok {
		if sess.CallerID != enderID && sess.CalleeID != enderID {
			s.mu.Unlock()
			return domain.ErrAccessDenied
		}
		delete(s.sessions, channelID)
	}
	s.mu.Unlock()
	if !ok {
		if _, err := s.chat.ResolveExisting(ctx, convID, enderID); err != nil {
			return err
		}
	}
	metrics.CallSignalsTotal.WithLabelValues("end").Inc()

	s.groups.Publish(realtime.ConversationGroup(convID), realtime.Event{Name: EvCallEnded, Data: CallEndedData{
		ConversationID: convID,
		EndedByID:      enderID,
	}}, nil)
	return nil
}

// DropUser discards any ringing or live sessions involving a user whose
// last connection went away, notifying the counterparty.
func (s *CallService) DropUser(userID domain.UserID) {
	s.mu.Lock()
	var dropped []*callSession
	for key, sess := range s.sessions {
		if sess.CallerID == userID || sess.CalleeID == userID {
			delete(s.sessions, key)
			dropped = append(dropped, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range dropped {
		other := sess.CallerID
		if other == userID {
			other = sess.CalleeID
		}
		if sess.Accepted {
			if convID, err := uuid.Parse(sess.ChannelID); err == nil {
				s.groups.Publish(realtime.ConversationGroup(convID), realtime.Event{Name: EvCallEnded, Data: CallEndedData{
					ConversationID: convID,
					EndedByID:      userID,
				}}, nil)
				continue
			}
		}
		publishToUser(s.presence, s.groups, other, realtime.Event{Name: EvCallDeclined, Data: CallDeclinedData{
			ChannelID:  sess.ChannelID,
			DeclinerID: userID,
		}})
	}
}

// materialize resolves the conversation a session signals on. Temporary
// channels get a general conversation created (or found) on accept; real
// channels already name one.
func (s *CallService) materialize(ctx context.Context, sess *callSession) (domain.ConversationID, error) {
	if strings.HasPrefix(sess.ChannelID, TempChannelPrefix) {
		conv, _, err := s.chat.findOrCreateGeneral(ctx, sess.CallerID, sess.CalleeID)
		if err != nil {
			return uuid.Nil, err
		}
		return conv.ID, nil
	}
	convID, err := uuid.Parse(sess.ChannelID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid channel id", domain.ErrInvalidRequest)
	}
	return convID, nil
}
