package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/realtime"
	"github.com/example/family-sync/internal/store"
	"github.com/example/family-sync/internal/types"
)

type fakeCaller struct {
	mu       sync.Mutex
	calls    []string
	requests []any
	handler  func(name string, payload any) (any, error)
}

func (f *fakeCaller) Call(_ context.Context, name string, payload, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.requests = append(f.requests, payload)
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return nil
	}
	resp, err := h(name, payload)
	if err != nil {
		return err
	}
	if out != nil && resp != nil {
		b, _ := json.Marshal(resp)
		return json.Unmarshal(b, out)
	}
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []bool
}

func (f *fakeSender) SendTyping(isTyping bool) {
	f.mu.Lock()
	f.sent = append(f.sent, isTyping)
	f.mu.Unlock()
}

func (f *fakeSender) indicators() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.sent...)
}

var self = User{ID: 1, Name: "me"}

func newTestService(t *testing.T, rpc *fakeCaller) (*Service, *fakeSender, store.Store) {
	t.Helper()
	st := store.NewMemory()
	sender := &fakeSender{}
	s, err := New(context.Background(), st, rpc, sender, self, zerolog.New(io.Discard), Options{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s, sender, st
}

func ackMessage(id int64, at time.Time) func(string, any) (any, error) {
	return func(name string, payload any) (any, error) {
		if name != "SendMessage" {
			return nil, nil
		}
		req := payload.(api.SendMessageRequest)
		return api.SendMessageResponse{Message: api.ChatMessageDTO{
			ID:              id,
			UserID:          self.ID,
			UserName:        self.Name,
			Content:         req.Content,
			CreatedAt:       at,
			ClientMessageID: req.ClientMessageID,
		}}, nil
	}
}

func TestSendSettlesServerIdentity(t *testing.T) {
	ctx := context.Background()
	serverAt := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	rpc := &fakeCaller{handler: ackMessage(101, serverAt)}
	s, _, st := newTestService(t, rpc)

	msg, err := s.Send(ctx, "  hello  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("content = %q, want trimmed", msg.Content)
	}
	if msg.RemoteID != "101" || msg.IsSending {
		t.Fatalf("message not settled: %+v", msg)
	}
	if !msg.CreatedAt.Equal(serverAt) {
		t.Fatalf("created at = %v, want server time", msg.CreatedAt)
	}

	persisted, err := st.Messages(ctx)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(persisted) != 1 || persisted[0].RemoteID != "101" {
		t.Fatalf("persisted = %+v, want one settled message", persisted)
	}
}

func TestSendEmptyContentIsIgnored(t *testing.T) {
	rpc := &fakeCaller{}
	s, _, _ := newTestService(t, rpc)

	if _, err := s.Send(context.Background(), "   "); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(rpc.calls) != 0 {
		t.Fatalf("rpc calls = %v, want none", rpc.calls)
	}
	if len(s.Messages()) != 0 {
		t.Fatal("blank message should not be stored")
	}
}

func TestOwnEchoSettlesInsteadOfDuplicating(t *testing.T) {
	ctx := context.Background()
	rpc := &fakeCaller{handler: func(string, any) (any, error) {
		return nil, errors.New("rpc down")
	}}
	s, _, _ := newTestService(t, rpc)

	msg, err := s.Send(ctx, "hi")
	if err == nil {
		t.Fatal("expected send error")
	}

	// The websocket echo carries the server identity the RPC never delivered.
	s.HandleMessage(realtime.MessageEvent{
		ID:              55,
		UserID:          self.ID,
		UserName:        self.Name,
		Content:         "hi",
		CreatedAt:       time.Now(),
		ClientMessageID: msg.ClientMessageID,
	})

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].RemoteID != "55" || msgs[0].SendFailed || msgs[0].IsSending {
		t.Fatalf("echo did not settle the message: %+v", msgs[0])
	}
}

func TestRetryReusesClientMessageID(t *testing.T) {
	ctx := context.Background()
	fail := true
	rpc := &fakeCaller{}
	rpc.handler = func(name string, payload any) (any, error) {
		if fail {
			return nil, errors.New("rpc down")
		}
		return ackMessage(9, time.Now())(name, payload)
	}
	s, _, _ := newTestService(t, rpc)

	msg, err := s.Send(ctx, "try me")
	if err == nil {
		t.Fatal("expected send error")
	}
	if !s.Messages()[0].SendFailed {
		t.Fatal("message should be marked failed")
	}

	fail = false
	retried, err := s.Retry(ctx, msg.LocalID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.RemoteID != "9" || retried.SendFailed {
		t.Fatalf("retry did not settle: %+v", retried)
	}

	first := rpc.requests[0].(api.SendMessageRequest)
	second := rpc.requests[1].(api.SendMessageRequest)
	if first.ClientMessageID != second.ClientMessageID {
		t.Fatalf("client id changed across retry: %q vs %q", first.ClientMessageID, second.ClientMessageID)
	}
}

func TestRetryIgnoresHealthyMessages(t *testing.T) {
	ctx := context.Background()
	rpc := &fakeCaller{handler: ackMessage(3, time.Now())}
	s, _, _ := newTestService(t, rpc)

	msg, err := s.Send(ctx, "fine")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.Retry(ctx, msg.LocalID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := len(rpc.calls); got != 1 {
		t.Fatalf("rpc calls = %d, want 1", got)
	}
}

func TestInboundMessageDedupsByRemoteID(t *testing.T) {
	s, _, _ := newTestService(t, &fakeCaller{})
	ev := realtime.MessageEvent{ID: 7, UserID: 2, UserName: "ana", Content: "hey", CreatedAt: time.Now()}

	s.HandleMessage(ev)
	s.HandleMessage(ev)

	if got := len(s.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
}

func TestInboundMessageClearsSendersTyping(t *testing.T) {
	s, _, _ := newTestService(t, &fakeCaller{})

	s.HandleTyping(2, "ana", true)
	if _, ok := s.TypingUsers()[2]; !ok {
		t.Fatal("typing roster should include ana")
	}

	s.HandleMessage(realtime.MessageEvent{ID: 8, UserID: 2, UserName: "ana", Content: "sent it", CreatedAt: time.Now()})
	if _, ok := s.TypingUsers()[2]; ok {
		t.Fatal("typing should clear once the message lands")
	}
}

func TestHandleTypingSuppressesSelf(t *testing.T) {
	s, _, _ := newTestService(t, &fakeCaller{})

	s.HandleTyping(self.ID, self.Name, true)
	if len(s.TypingUsers()) != 0 {
		t.Fatal("own typing indicator must be suppressed")
	}
}

func TestDisconnectClearsTypingRoster(t *testing.T) {
	s, _, _ := newTestService(t, &fakeCaller{})

	s.HandleTyping(2, "ana", true)
	s.HandleStateChange(realtime.Status{State: realtime.StateDisconnected})

	if len(s.TypingUsers()) != 0 {
		t.Fatal("typing roster should not survive a disconnect")
	}
	if got := s.ConnectionState().State; got != realtime.StateDisconnected {
		t.Fatalf("connection state = %v, want disconnected", got)
	}
}

func TestPresenceOfflineClearsTyping(t *testing.T) {
	s, _, _ := newTestService(t, &fakeCaller{})

	s.HandlePresence(2, "ana", true)
	s.HandleTyping(2, "ana", true)
	s.HandlePresence(2, "ana", false)

	if len(s.OnlineUsers()) != 0 {
		t.Fatal("ana should be offline")
	}
	if len(s.TypingUsers()) != 0 {
		t.Fatal("offline users cannot be typing")
	}
}

func TestTypingKeystrokeRateLimitsAndAutoStops(t *testing.T) {
	s, sender, _ := newTestService(t, &fakeCaller{})
	s.opts.TypingIdleTimeout = 20 * time.Millisecond

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.TypingKeystroke()
	s.TypingKeystroke()
	now = now.Add(s.opts.TypingSendInterval)
	s.TypingKeystroke()

	deadline := time.After(2 * time.Second)
	for {
		got := sender.indicators()
		if len(got) >= 3 {
			if !got[0] || !got[1] || got[2] {
				t.Fatalf("indicators = %v, want [true true false]", got)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("indicators = %v, want start, start, auto-stop", sender.indicators())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStoppedTypingSendsStopImmediately(t *testing.T) {
	s, sender, _ := newTestService(t, &fakeCaller{})

	s.TypingKeystroke()
	s.StoppedTyping()

	got := sender.indicators()
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("indicators = %v, want [true false]", got)
	}
}

func TestDeleteOwnSyncedMessage(t *testing.T) {
	ctx := context.Background()
	rpc := &fakeCaller{handler: ackMessage(31, time.Now())}
	s, _, st := newTestService(t, rpc)

	msg, err := s.Send(ctx, "delete me")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Delete(ctx, msg.LocalID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(s.Messages()) != 0 {
		t.Fatal("message should be gone locally")
	}
	persisted, _ := st.Messages(ctx)
	if len(persisted) != 0 {
		t.Fatal("message should be gone from the store")
	}
	last := rpc.requests[len(rpc.requests)-1].(api.DeleteMessageRequest)
	if last.MessageID != 31 {
		t.Fatalf("delete rpc got id %d, want 31", last.MessageID)
	}
}

func TestDeleteRefusesForeignMessages(t *testing.T) {
	rpc := &fakeCaller{}
	s, _, _ := newTestService(t, rpc)

	s.HandleMessage(realtime.MessageEvent{ID: 12, UserID: 2, UserName: "ana", Content: "theirs", CreatedAt: time.Now()})
	local := s.Messages()[0].LocalID

	if err := s.Delete(context.Background(), local); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(s.Messages()) != 1 {
		t.Fatal("foreign message must survive")
	}
	if len(rpc.calls) != 0 {
		t.Fatalf("rpc calls = %v, want none", rpc.calls)
	}
}

func TestHandleMessageDeletedRemovesByRemoteID(t *testing.T) {
	s, _, st := newTestService(t, &fakeCaller{})

	s.HandleMessage(realtime.MessageEvent{ID: 40, UserID: 2, UserName: "ana", Content: "gone soon", CreatedAt: time.Now()})
	s.HandleMessageDeleted(40)

	if len(s.Messages()) != 0 {
		t.Fatal("message should be removed")
	}
	persisted, _ := st.Messages(context.Background())
	if len(persisted) != 0 {
		t.Fatal("message should be removed from the store")
	}
}

func TestLoadHistorySkipsKnownMessages(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	rpc := &fakeCaller{handler: func(name string, _ any) (any, error) {
		if name != "GetChatMessages" {
			return nil, nil
		}
		return api.GetChatMessagesResponse{Messages: []api.ChatMessageDTO{
			{ID: 70, UserID: 2, UserName: "ana", Content: "old", CreatedAt: base},
			{ID: 71, UserID: 2, UserName: "ana", Content: "new", CreatedAt: base.Add(time.Minute)},
		}}, nil
	}}
	s, _, _ := newTestService(t, rpc)

	s.HandleMessage(realtime.MessageEvent{ID: 70, UserID: 2, UserName: "ana", Content: "old", CreatedAt: base})
	if err := s.LoadHistory(ctx, 50, 0); err != nil {
		t.Fatalf("load history: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "old" || msgs[1].Content != "new" {
		t.Fatalf("history out of order: %+v", msgs)
	}
}

func TestRehydrateSeedsEchoDedup(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	stored := types.ChatMessage{
		LocalID:         "l1",
		RemoteID:        "80",
		ClientMessageID: "c80",
		UserID:          self.ID,
		UserName:        self.Name,
		Content:         "from last run",
		CreatedAt:       time.Now(),
	}
	if err := st.PutMessage(ctx, stored); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	s, err := New(ctx, st, &fakeCaller{}, &fakeSender{}, self, zerolog.New(io.Discard), Options{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	s.HandleMessage(realtime.MessageEvent{
		ID:              80,
		UserID:          self.ID,
		UserName:        self.Name,
		Content:         "from last run",
		CreatedAt:       stored.CreatedAt,
		ClientMessageID: "c80",
	})

	if got := len(s.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1 after restart echo", got)
	}
}
