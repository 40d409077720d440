package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"chat-relay/internal/apperror"
	"chat-relay/internal/auth"
	"chat-relay/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chat-relay/internal/websocket"

var (
	ErrClientDisconnected = errors.New("client disconnected")
	ErrSendBufferFull     = errors.New("send buffer full")
)

// PresenceTracker records whether an identity has at least one open session.
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

// MessageJournal receives every persisted message after it is stored.
// Failures are logged and never fail the send.
type MessageJournal interface {
	PublishMessage(ctx context.Context, msg *models.Message) error
}

type Options struct {
	// StrictMembership makes join and typing run the participant check.
	StrictMembership bool
	// StoreTimeout bounds each store call made from a relay flow. Zero means
	// no bound beyond the caller's context.
	StoreTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64
	Presence       PresenceTracker
	Journal        MessageJournal
	Logger         *slog.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Relay moves realtime events between the connections subscribed to a
// conversation. It owns the connection registry and the room index; durable
// state lives behind ConversationStore and MessageStore.
//
// No relay lock is ever held across a store call, and fan-out always sends to
// a snapshot of subscribers taken under the room lock and released before any
// Send.
type Relay struct {
	verifier      auth.TokenVerifier
	conversations ConversationStore
	messages      MessageStore
	authorizer    *Authorizer
	registry      *Registry
	rooms         *RoomIndex
	opts          Options
	logger        *slog.Logger
	tracer        trace.Tracer
	metrics       *Metrics
	presenceLocks stripedLocks
}

func NewRelay(verifier auth.TokenVerifier, conversations ConversationStore, messages MessageStore, opts Options) *Relay {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Relay{
		verifier:      verifier,
		conversations: conversations,
		messages:      messages,
		authorizer:    NewAuthorizer(conversations),
		registry:      NewRegistry(),
		rooms:         NewRoomIndex(),
		opts:          opts,
		logger:        logger.With("component", "relay"),
		tracer:        tp.Tracer(tracerName),
		metrics:       &Metrics{},
	}
}

func (r *Relay) Registry() *Registry { return r.registry }
func (r *Relay) Rooms() *RoomIndex { return r.rooms }
func (r *Relay) Metrics() *Metrics { return r.metrics }
func (r *Relay) Options() Options { return r.opts }

func (r *Relay) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Relay) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.KindOf(err)))
	}
	span.End()
}

/** -------------------- connection lifecycle -------------------- */

// Connect verifies the handshake token, binds conn to its identity and
// subscribes it to every conversation the identity participates in. On an
// invalid token the connection is closed and nothing is registered.
func (r *Relay) Connect(ctx context.Context, conn Connection, token string) (identity string, err error) {
	ctx, span := r.startSpan(ctx, "relay.Connect", attribute.String("connection.id", conn.ID()))
	defer func() { endSpan(span, err) }()

	identity, err = r.verifier.Verify(token)
	if err != nil {
		r.logger.Info("rejected connection", "connID", conn.ID(), "error", err)
		r.metrics.rejected.Add(1)
		closeConn(conn, websocket.ClosePolicyViolation, apperror.MessageOf(err))
		return "", err
	}
	span.SetAttributes(attribute.String("user.id", identity))

	sessions, added := r.registry.Register(identity, conn)
	if !added {
		return identity, nil
	}
	r.metrics.connected.Add(1)
	r.logger.Info("client connected", "connID", conn.ID(), "userID", identity, "sessions", sessions)

	if sessions == 1 {
		r.syncPresence(ctx, identity)
	}

	sctx, cancel := r.storeContext(ctx)
	conversations, lerr := r.conversations.ListConversationsFor(sctx, identity)
	cancel()
	if lerr != nil {
		// Partial results still subscribe; the connection stays open.
		r.logger.Warn("failed to list conversations on connect", "userID", identity, "error", lerr)
	}
	for i := range conversations {
		r.subscribeLive(conn, conversations[i].ID)
	}
	return identity, nil
}

// Disconnect releases every subscription and the registry binding of conn.
// Calling it for an unknown or already disconnected connection is a no-op.
func (r *Relay) Disconnect(ctx context.Context, conn Connection) {
	ctx, span := r.startSpan(ctx, "relay.Disconnect", attribute.String("connection.id", conn.ID()))
	defer span.End()

	// Unregister strictly before UnsubscribeAll; subscribeLive relies on it.
	identity, remaining, removed := r.registry.Unregister(conn)
	left := r.rooms.UnsubscribeAll(conn)
	if !removed {
		return
	}
	r.metrics.disconnected.Add(1)
	r.logger.Info("client disconnected", "connID", conn.ID(), "userID", identity, "rooms", len(left), "sessions", remaining)

	if remaining == 0 {
		r.syncPresence(ctx, identity)
	}
}

// syncPresence writes the identity's current session state to the presence
// tracker. Writes for one identity are serialized and each one reads the
// registry under the stripe lock, so the last write always matches the
// registry even when a connect and a last disconnect race.
func (r *Relay) syncPresence(ctx context.Context, identity string) {
	if r.opts.Presence == nil {
		return
	}
	mu := r.presenceLocks.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	pctx, cancel := r.storeContext(ctx)
	defer cancel()
	if len(r.registry.ConnectionsOf(identity)) > 0 {
		if err := r.opts.Presence.SetUserOnline(pctx, identity); err != nil {
			r.logger.Warn("failed to set user online", "userID", identity, "error", err)
		}
		return
	}
	if err := r.opts.Presence.SetUserOffline(pctx, identity); err != nil {
		r.logger.Warn("failed to set user offline", "userID", identity, "error", err)
	}
}

// subscribeLive subscribes conn unless it has been disconnected meanwhile.
// A disconnect racing with the subscribe either sees the new subscription in
// UnsubscribeAll or has already unregistered, which is caught here.
func (r *Relay) subscribeLive(conn Connection, conversationID string) bool {
	added := r.rooms.Subscribe(conn, conversationID)
	if _, ok := r.registry.IdentityOf(conn.ID()); !ok {
		r.rooms.Unsubscribe(conn, conversationID)
		return false
	}
	return added
}

// Shutdown closes every open connection. Their read loops then run
// Disconnect as usual.
func (r *Relay) Shutdown() {
	conns := r.registry.All()
	for _, c := range conns {
		closeConn(c, websocket.CloseGoingAway, "server shutting down")
	}
	r.logger.Info("relay shut down", "connections", len(conns))
}

/** -------------------- client actions -------------------- */

func (r *Relay) boundIdentity(conn Connection) (string, error) {
	identity, ok := r.registry.IdentityOf(conn.ID())
	if !ok {
		return "", apperror.InvalidRequest("connection is not authenticated")
	}
	return identity, nil
}

// reverify re-checks the handshake credential for guarded actions. The
// subject must still match the identity the connection is bound to.
func (r *Relay) reverify(conn Connection, identity string) error {
	subject, err := r.verifier.Verify(conn.Credential())
	if err != nil {
		return err
	}
	if subject != identity {
		return apperror.Unauthorized("token subject does not match connection")
	}
	return nil
}

func (r *Relay) authorize(ctx context.Context, identity, conversationID string) error {
	actx, cancel := r.storeContext(ctx)
	defer cancel()
	return r.authorizer.Authorize(actx, identity, conversationID)
}

// Join subscribes conn to a conversation. With strict membership the
// identity must be a participant.
func (r *Relay) Join(ctx context.Context, conn Connection, conversationID string) (err error) {
	ctx, span := r.startSpan(ctx, "relay.Join", attribute.String("conversation.id", conversationID))
	defer func() { endSpan(span, err) }()

	identity, err := r.boundIdentity(conn)
	if err != nil {
		return err
	}
	if conversationID == "" {
		return apperror.InvalidRequest("conversationId is required")
	}
	if r.opts.StrictMembership {
		if err := r.authorize(ctx, identity, conversationID); err != nil {
			return err
		}
	}

	if !r.subscribeLive(conn, conversationID) {
		r.logger.Debug("join was a no-op", "connID", conn.ID(), "conversationID", conversationID)
	}
	return nil
}

// Leave unsubscribes conn from a conversation. Leaving a conversation the
// connection is not in succeeds.
func (r *Relay) Leave(ctx context.Context, conn Connection, conversationID string) (err error) {
	_, span := r.startSpan(ctx, "relay.Leave", attribute.String("conversation.id", conversationID))
	defer func() { endSpan(span, err) }()

	if _, err = r.boundIdentity(conn); err != nil {
		return err
	}
	if conversationID == "" {
		return apperror.InvalidRequest("conversationId is required")
	}
	r.rooms.Unsubscribe(conn, conversationID)
	return nil
}

// SendMessage persists a message and fans newMessage out to every subscriber
// of the conversation, the sender's own connection included.
func (r *Relay) SendMessage(ctx context.Context, conn Connection, conversationID, content string) (msg *models.Message, err error) {
	ctx, span := r.startSpan(ctx, "relay.SendMessage", attribute.String("conversation.id", conversationID))
	defer func() { endSpan(span, err) }()

	identity, err := r.boundIdentity(conn)
	if err != nil {
		return nil, err
	}
	if err := r.reverify(conn, identity); err != nil {
		return nil, err
	}
	if conversationID == "" || strings.TrimSpace(content) == "" {
		return nil, apperror.InvalidRequest("conversationId and content are required")
	}
	if err := r.authorize(ctx, identity, conversationID); err != nil {
		return nil, err
	}

	sctx, cancel := r.storeContext(ctx)
	msg, err = r.messages.Create(sctx, identity, conversationID, content)
	cancel()
	if err != nil {
		return nil, err
	}

	r.journal(ctx, msg)
	delivered := r.broadcast(conversationID, &Event{Event: EventNewMessage, Data: msg}, nil)
	r.metrics.messages.Add(1)
	span.SetAttributes(attribute.Int("delivered", delivered))
	return msg, nil
}

// Typing fans userTyping out to every subscriber except the typing connection.
// Nothing is persisted.
func (r *Relay) Typing(ctx context.Context, conn Connection, conversationID string, isTyping bool) (err error) {
	ctx, span := r.startSpan(ctx, "relay.Typing", attribute.String("conversation.id", conversationID))
	defer func() { endSpan(span, err) }()

	identity, err := r.boundIdentity(conn)
	if err != nil {
		return err
	}
	if conversationID == "" {
		return apperror.InvalidRequest("conversationId is required")
	}
	if r.opts.StrictMembership {
		if err := r.authorize(ctx, identity, conversationID); err != nil {
			return err
		}
	}

	r.broadcast(conversationID, &Event{
		Event: EventUserTyping,
		Data:  UserTypingData{UserID: identity, ConversationID: conversationID, IsTyping: isTyping},
	}, conn)
	return nil
}

// ReadMessages marks the conversation read for the connection's identity and
// tells every other subscriber.
func (r *Relay) ReadMessages(ctx context.Context, conn Connection, conversationID string) (err error) {
	ctx, span := r.startSpan(ctx, "relay.ReadMessages", attribute.String("conversation.id", conversationID))
	defer func() { endSpan(span, err) }()

	identity, err := r.boundIdentity(conn)
	if err != nil {
		return err
	}
	if err := r.reverify(conn, identity); err != nil {
		return err
	}
	if conversationID == "" {
		return apperror.InvalidRequest("conversationId is required")
	}
	if err := r.authorize(ctx, identity, conversationID); err != nil {
		return err
	}

	sctx, cancel := r.storeContext(ctx)
	updated, err := r.messages.MarkRead(sctx, conversationID, identity)
	cancel()
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int64("updated", updated))

	r.broadcast(conversationID, &Event{
		Event: EventMessagesRead,
		Data:  MessagesReadData{UserID: identity, ConversationID: conversationID},
	}, conn)
	return nil
}

/** -------------------- frame dispatch -------------------- */

// Handle decodes one inbound frame and runs the matching flow. Successes that
// have an acknowledgement and every failure are answered on conn only.
func (r *Relay) Handle(ctx context.Context, conn Connection, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.reply(conn, NewErrorEvent("", apperror.InvalidRequest("invalid message format")))
		return
	}

	if !frame.Event.IsInbound() {
		r.reply(conn, NewErrorEvent(frame.ID, apperror.InvalidRequest("unknown event: "+frame.Event.String())))
		return
	}

	var (
		ack *Event
		err error
	)

	switch frame.Event {
	case EventJoinConversation:
		var conversationID string
		if conversationID, err = decodeConversationRef(frame.Data); err == nil {
			if err = r.Join(ctx, conn, conversationID); err == nil {
				ack = &Event{Event: EventJoinedConversation, Data: ConversationRef{ConversationID: conversationID}}
			}
		}

	case EventLeaveConversation:
		var conversationID string
		if conversationID, err = decodeConversationRef(frame.Data); err == nil {
			if err = r.Leave(ctx, conn, conversationID); err == nil {
				ack = &Event{Event: EventLeftConversation, Data: ConversationRef{ConversationID: conversationID}}
			}
		}

	case EventSendMessage:
		var data SendMessageData
		if err = decodeData(frame.Data, &data); err == nil {
			var msg *models.Message
			if msg, err = r.SendMessage(ctx, conn, strings.TrimSpace(data.ConversationID), data.Content); err == nil {
				ack = &Event{Event: EventMessageSent, Data: msg}
			}
		}

	case EventTyping:
		var data TypingData
		if err = decodeData(frame.Data, &data); err == nil {
			err = r.Typing(ctx, conn, strings.TrimSpace(data.ConversationID), data.IsTyping)
		}

	case EventReadMessages:
		var conversationID string
		if conversationID, err = decodeConversationRef(frame.Data); err == nil {
			err = r.ReadMessages(ctx, conn, conversationID)
		}

	}

	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			r.logger.Error("relay action failed", "event", frame.Event, "connID", conn.ID(), "error", err)
		} else {
			r.logger.Debug("relay action rejected", "event", frame.Event, "connID", conn.ID(), "error", err)
		}
		r.reply(conn, NewErrorEvent(frame.ID, err))
		return
	}
	if ack != nil {
		ack.ID = frame.ID
		r.reply(conn, ack)
	}
}

func (r *Relay) reply(conn Connection, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to encode event", "event", event.Event, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		r.metrics.failed.Add(1)
		r.logger.Debug("failed to reply", "connID", conn.ID(), "error", err)
	}
}

// broadcast encodes event once and sends it to the current subscribers of
// conversationID, skipping exclude. A failed send affects only its target.
func (r *Relay) broadcast(conversationID string, event *Event, exclude Connection) int {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to encode event", "event", event.Event, "error", err)
		return 0
	}

	delivered := 0
	for _, c := range r.rooms.SubscribersOf(conversationID) {
		if exclude != nil && c.ID() == exclude.ID() {
			continue
		}
		if err := c.Send(data); err != nil {
			r.metrics.failed.Add(1)
			r.logger.Debug("failed to deliver event", "event", event.Event, "connID", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	r.metrics.delivered.Add(uint64(delivered))
	return delivered
}

func (r *Relay) journal(ctx context.Context, msg *models.Message) {
	if r.opts.Journal == nil {
		return
	}
	jctx, cancel := r.storeContext(ctx)
	defer cancel()
	if err := r.opts.Journal.PublishMessage(jctx, msg); err != nil {
		r.logger.Warn("failed to journal message", "messageID", msg.ID, "error", err)
	}
}

/** -------------------- membership hooks -------------------- */

// SubscribeIdentity subscribes every live connection of identity to
// conversationID. Used when a participant is added outside the socket.
func (r *Relay) SubscribeIdentity(identity, conversationID string) int {
	n := 0
	for _, c := range r.registry.ConnectionsOf(identity) {
		if r.subscribeLive(c, conversationID) {
			n++
		}
	}
	return n
}

// UnsubscribeIdentity removes every live connection of identity from
// conversationID.
func (r *Relay) UnsubscribeIdentity(identity, conversationID string) int {
	n := 0
	for _, c := range r.registry.ConnectionsOf(identity) {
		if r.rooms.Unsubscribe(c, conversationID) {
			n++
		}
	}
	return n
}

// PublishMessage fans out a message persisted outside the socket.
func (r *Relay) PublishMessage(ctx context.Context, msg *models.Message) int {
	r.journal(ctx, msg)
	r.metrics.messages.Add(1)
	return r.broadcast(msg.ConversationID, &Event{Event: EventNewMessage, Data: msg}, nil)
}

// PublishRead announces a read receipt recorded outside the socket.
func (r *Relay) PublishRead(identity, conversationID string) int {
	return r.broadcast(conversationID, &Event{
		Event: EventMessagesRead,
		Data:  MessagesReadData{UserID: identity, ConversationID: conversationID},
	}, nil)
}

// IsOnline reports whether identity holds at least one live connection.
func (r *Relay) IsOnline(identity string) bool {
	return len(r.registry.ConnectionsOf(identity)) > 0
}

// OnlineIdentities lists identities with a live session on this relay.
func (r *Relay) OnlineIdentities() []string {
	return r.registry.Identities()
}
