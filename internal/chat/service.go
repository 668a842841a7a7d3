// Package chat keeps the family chat view consistent across three sources
// of truth: optimistic local writes, the durable RPC path and the realtime
// feed. Client message ids reconcile the first with the last.
package chat

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/realtime"
	"github.com/example/family-sync/internal/store"
	"github.com/example/family-sync/internal/types"
)

// Caller is the slice of the API client the chat service uses.
type Caller interface {
	Call(ctx context.Context, name string, payload, out any) error
}

// Sender is the outbound half of the realtime transport.
type Sender interface {
	SendTyping(isTyping bool)
}

// User identifies the local participant.
type User struct {
	ID   int64
	Name string
}

// Options tunes typing indicator behavior. Zero values use the defaults.
type Options struct {
	// TypingSendInterval rate-limits outbound start_typing frames.
	TypingSendInterval time.Duration
	// TypingIdleTimeout is how long after the last keystroke the typing
	// indicator auto-clears.
	TypingIdleTimeout time.Duration
}

const (
	defaultTypingSendInterval = 1 * time.Second
	defaultTypingIdleTimeout  = 3 * time.Second
)

// Service is the chat consumer. It implements realtime.Handler; transport
// goroutines and UI calls may arrive concurrently.
type Service struct {
	store  store.Store
	rpc    Caller
	sender Sender
	self   User
	logger zerolog.Logger
	opts   Options

	mu              sync.Mutex
	messages        []types.ChatMessage
	online          map[int64]string
	typing          map[int64]string
	connState       realtime.Status
	lastErr         string
	sentClientIDs   map[string]struct{}
	lastTypingSent  time.Time
	stopTypingTimer *time.Timer
	loading         bool
	notify          func()

	now func() time.Time
}

// New builds the service and rehydrates the cached history. Client message
// ids of our own past messages seed the dedup set so restarts do not
// resurrect echoes.
func New(ctx context.Context, st store.Store, rpc Caller, sender Sender, self User, logger zerolog.Logger, opts Options) (*Service, error) {
	if opts.TypingSendInterval <= 0 {
		opts.TypingSendInterval = defaultTypingSendInterval
	}
	if opts.TypingIdleTimeout <= 0 {
		opts.TypingIdleTimeout = defaultTypingIdleTimeout
	}

	s := &Service{
		store:         st,
		rpc:           rpc,
		sender:        sender,
		self:          self,
		logger:        logger,
		opts:          opts,
		online:        make(map[int64]string),
		typing:        make(map[int64]string),
		sentClientIDs: make(map[string]struct{}),
		now:           time.Now,
	}

	messages, err := st.Messages(ctx)
	if err != nil {
		return nil, err
	}
	s.messages = messages
	for _, m := range messages {
		if m.UserID == self.ID && m.ClientMessageID != "" {
			s.sentClientIDs[m.ClientMessageID] = struct{}{}
		}
	}
	return s, nil
}

// SetSender wires the realtime transport in after construction. The service
// and the transport reference each other, so one side has to come late.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// SetNotify registers a callback fired after any observable state change.
func (s *Service) SetNotify(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Service) changed() {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Messages returns the history ordered by creation time ascending.
func (s *Service) Messages() []types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChatMessage(nil), s.messages...)
}

// OnlineUsers returns the ids of currently online participants.
func (s *Service) OnlineUsers() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.online))
	for id, name := range s.online {
		out[id] = name
	}
	return out
}

// TypingUsers returns who is typing right now, excluding ourselves.
func (s *Service) TypingUsers() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.typing))
	for id, name := range s.typing {
		out[id] = name
	}
	return out
}

// ConnectionState reports the last transport status observed.
func (s *Service) ConnectionState() realtime.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// Err returns the last surfaced error message, empty when healthy.
func (s *Service) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LoadHistory fetches a page of server history and merges it into the local
// cache, skipping anything already present.
func (s *Service) LoadHistory(ctx context.Context, limit, offset int) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	var resp api.GetChatMessagesResponse
	if err := s.rpc.Call(ctx, "GetChatMessages", api.GetChatMessagesRequest{Limit: limit, Offset: offset}, &resp); err != nil {
		s.setErr(err.Error())
		return err
	}

	s.mu.Lock()
	added := false
	for _, dto := range resp.Messages {
		rid := remoteID(dto.ID)
		if s.hasRemoteLocked(rid) {
			continue
		}
		if _, ours := s.sentClientIDs[dto.ClientMessageID]; ours {
			continue
		}
		msg := messageFromDTO(dto)
		s.messages = append(s.messages, msg)
		if err := s.store.PutMessage(ctx, msg); err != nil {
			s.mu.Unlock()
			return err
		}
		added = true
	}
	s.sortLocked()
	s.lastErr = ""
	s.mu.Unlock()

	if added {
		s.changed()
	}
	return nil
}

// Send posts a message. The local echo appears immediately in sending state
// and settles once the server acknowledges.
func (s *Service) Send(ctx context.Context, content string) (types.ChatMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return types.ChatMessage{}, nil
	}

	msg := types.ChatMessage{
		LocalID:         uuid.NewString(),
		ClientMessageID: uuid.NewString(),
		UserID:          s.self.ID,
		UserName:        s.self.Name,
		Content:         trimmed,
		CreatedAt:       s.now(),
		IsSending:       true,
	}

	s.mu.Lock()
	s.sentClientIDs[msg.ClientMessageID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.sortLocked()
	s.mu.Unlock()
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return msg, err
	}
	s.changed()

	return s.deliver(ctx, msg)
}

// Retry resends a failed message, reusing its client message id so the
// server can dedup if the original write actually landed.
func (s *Service) Retry(ctx context.Context, localID string) (types.ChatMessage, error) {
	s.mu.Lock()
	idx := s.indexByLocalLocked(localID)
	if idx < 0 || !s.messages[idx].SendFailed {
		s.mu.Unlock()
		return types.ChatMessage{}, nil
	}
	s.messages[idx].IsSending = true
	s.messages[idx].SendFailed = false
	msg := s.messages[idx]
	s.mu.Unlock()
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return msg, err
	}
	s.changed()

	return s.deliver(ctx, msg)
}

func (s *Service) deliver(ctx context.Context, msg types.ChatMessage) (types.ChatMessage, error) {
	var resp api.SendMessageResponse
	req := api.SendMessageRequest{Content: msg.Content, ClientMessageID: msg.ClientMessageID}
	err := s.rpc.Call(ctx, "SendMessage", req, &resp)

	s.mu.Lock()
	idx := s.indexByLocalLocked(msg.LocalID)
	if idx < 0 {
		s.mu.Unlock()
		return msg, err
	}
	if err != nil {
		s.messages[idx].IsSending = false
		s.messages[idx].SendFailed = true
		s.lastErr = err.Error()
		messagesSent.WithLabelValues("failed").Inc()
	} else {
		s.messages[idx].RemoteID = remoteID(resp.Message.ID)
		s.messages[idx].CreatedAt = resp.Message.CreatedAt
		s.messages[idx].IsSending = false
		s.messages[idx].SendFailed = false
		s.lastErr = ""
		messagesSent.WithLabelValues("ok").Inc()
	}
	updated := s.messages[idx]
	s.sortLocked()
	s.mu.Unlock()

	if perr := s.store.PutMessage(ctx, updated); perr != nil && err == nil {
		err = perr
	}
	s.changed()
	return updated, err
}

// Delete removes one of our own synced messages. The local removal is
// immediate; a 404 from the server means someone beat us to it.
func (s *Service) Delete(ctx context.Context, localID string) error {
	s.mu.Lock()
	idx := s.indexByLocalLocked(localID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	msg := s.messages[idx]
	if msg.UserID != s.self.ID || msg.RemoteID == "" {
		s.mu.Unlock()
		return nil
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.mu.Unlock()

	if err := s.store.DeleteMessage(ctx, localID); err != nil && err != store.ErrNotFound {
		return err
	}
	s.changed()

	var resp api.SuccessResponse
	req := api.DeleteMessageRequest{MessageID: remoteIDToInt(msg.RemoteID)}
	if err := s.rpc.Call(ctx, "DeleteMessage", req, &resp); err != nil && !api.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("local_id", localID).Msg("chat delete failed upstream")
	}
	return nil
}

// TypingKeystroke reports local typing activity. Outbound indicators are
// rate-limited and auto-clear after the idle timeout.
func (s *Service) TypingKeystroke() {
	s.mu.Lock()
	sender := s.sender
	if sender == nil {
		s.mu.Unlock()
		return
	}
	now := s.now()
	shouldSend := now.Sub(s.lastTypingSent) >= s.opts.TypingSendInterval
	if shouldSend {
		s.lastTypingSent = now
	}
	if s.stopTypingTimer != nil {
		s.stopTypingTimer.Stop()
	}
	s.stopTypingTimer = time.AfterFunc(s.opts.TypingIdleTimeout, func() {
		sender.SendTyping(false)
	})
	s.mu.Unlock()

	if shouldSend {
		sender.SendTyping(true)
	}
}

// StoppedTyping clears the local typing indicator immediately.
func (s *Service) StoppedTyping() {
	s.mu.Lock()
	sender := s.sender
	if s.stopTypingTimer != nil {
		s.stopTypingTimer.Stop()
		s.stopTypingTimer = nil
	}
	s.mu.Unlock()
	if sender != nil {
		sender.SendTyping(false)
	}
}

// HandleMessage merges an inbound realtime message. Our own echoes settle
// the optimistic copy instead of duplicating it.
func (s *Service) HandleMessage(ev realtime.MessageEvent) {
	ctx := context.Background()

	s.mu.Lock()
	if _, ours := s.sentClientIDs[ev.ClientMessageID]; ours && ev.ClientMessageID != "" {
		idx := s.indexByClientIDLocked(ev.ClientMessageID)
		if idx >= 0 {
			s.messages[idx].RemoteID = remoteID(ev.ID)
			s.messages[idx].CreatedAt = ev.CreatedAt
			s.messages[idx].IsSending = false
			s.messages[idx].SendFailed = false
			updated := s.messages[idx]
			s.sortLocked()
			s.mu.Unlock()
			duplicatesDropped.Inc()
			if err := s.store.PutMessage(ctx, updated); err != nil {
				s.logger.Warn().Err(err).Msg("failed to persist settled message")
			}
			s.changed()
			return
		}
		s.mu.Unlock()
		duplicatesDropped.Inc()
		return
	}

	if s.hasRemoteLocked(remoteID(ev.ID)) {
		s.mu.Unlock()
		duplicatesDropped.Inc()
		return
	}

	msg := types.ChatMessage{
		LocalID:         uuid.NewString(),
		RemoteID:        remoteID(ev.ID),
		ClientMessageID: ev.ClientMessageID,
		UserID:          ev.UserID,
		UserName:        ev.UserName,
		Content:         ev.Content,
		CreatedAt:       ev.CreatedAt,
	}
	s.messages = append(s.messages, msg)
	s.sortLocked()
	delete(s.typing, ev.UserID)
	s.mu.Unlock()

	messagesReceived.Inc()
	if err := s.store.PutMessage(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist inbound message")
	}
	s.changed()
}

// HandleMessageDeleted removes a message deleted elsewhere.
func (s *Service) HandleMessageDeleted(messageID int64) {
	rid := remoteID(messageID)

	s.mu.Lock()
	var localID string
	for i, m := range s.messages {
		if m.RemoteID == rid {
			localID = m.LocalID
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if localID == "" {
		return
	}

	if err := s.store.DeleteMessage(context.Background(), localID); err != nil && err != store.ErrNotFound {
		s.logger.Warn().Err(err).Msg("failed to delete message locally")
	}
	s.changed()
}

// HandleTyping updates the typing roster. Our own indicator is suppressed.
func (s *Service) HandleTyping(userID int64, userName string, isTyping bool) {
	if userID == s.self.ID {
		return
	}
	s.mu.Lock()
	if isTyping {
		s.typing[userID] = userName
	} else {
		delete(s.typing, userID)
	}
	s.mu.Unlock()
	s.changed()
}

// HandlePresence tracks who is online. Going offline also clears any stale
// typing indicator.
func (s *Service) HandlePresence(userID int64, userName string, online bool) {
	s.mu.Lock()
	if online {
		s.online[userID] = userName
	} else {
		delete(s.online, userID)
		delete(s.typing, userID)
	}
	s.mu.Unlock()
	s.changed()
}

// HandleStateChange mirrors the transport state. Typing indicators cannot
// outlive the connection that carried them.
func (s *Service) HandleStateChange(st realtime.Status) {
	s.mu.Lock()
	s.connState = st
	if st.State == realtime.StateDisconnected || st.State == realtime.StateFailed {
		s.typing = make(map[int64]string)
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Service) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

func (s *Service) hasRemoteLocked(rid string) bool {
	for _, m := range s.messages {
		if m.RemoteID == rid {
			return true
		}
	}
	return false
}

func (s *Service) indexByLocalLocked(localID string) int {
	for i, m := range s.messages {
		if m.LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Service) indexByClientIDLocked(clientID string) int {
	for i, m := range s.messages {
		if m.ClientMessageID == clientID {
			return i
		}
	}
	return -1
}

func remoteID(id int64) string { return strconv.FormatInt(id, 10) }

func remoteIDToInt(id string) int64 {
	v, _ := strconv.ParseInt(id, 10, 64)
	return v
}

func messageFromDTO(dto api.ChatMessageDTO) types.ChatMessage {
	return types.ChatMessage{
		LocalID:         uuid.NewString(),
		RemoteID:        remoteID(dto.ID),
		ClientMessageID: dto.ClientMessageID,
		UserID:          dto.UserID,
		UserName:        dto.UserName,
		Content:         dto.Content,
		CreatedAt:       dto.CreatedAt,
	}
}
