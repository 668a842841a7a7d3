package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type recordingHandler struct {
	states  chan Status
	msgs    chan MessageEvent
	deleted chan int64
	typing  chan typingEvent
}

type typingEvent struct {
	userID   int64
	userName string
	isTyping bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		states:  make(chan Status, 64),
		msgs:    make(chan MessageEvent, 16),
		deleted: make(chan int64, 16),
		typing:  make(chan typingEvent, 16),
	}
}

func (h *recordingHandler) HandleMessage(ev MessageEvent) { h.msgs <- ev }
func (h *recordingHandler) HandleMessageDeleted(id int64) { h.deleted <- id }
func (h *recordingHandler) HandleTyping(userID int64, userName string, isTyping bool) {
	h.typing <- typingEvent{userID, userName, isTyping}
}
func (h *recordingHandler) HandlePresence(int64, string, bool) {}
func (h *recordingHandler) HandleStateChange(st Status) {
	select {
	case h.states <- st:
	default:
	}
}

func (h *recordingHandler) waitForState(t *testing.T, want State) Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-h.states:
			if st.State == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectDeliversInboundFrames(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		frame := `{"type":"new_message","payload":{"id":7,"user_id":2,"user_name":"ana","content":"hi","client_message_id":"c1"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		deleted := `{"type":"message_deleted","payload":{"message_id":7}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(deleted)); err != nil {
			return
		}
		typing := `{"type":"typing","payload":{"user_id":2,"user_name":"ana","is_typing":true}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(typing)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h := newRecordingHandler()
	tr := New(url, h, zerolog.New(io.Discard), Options{})
	tr.Connect(context.Background())
	defer tr.Disconnect()

	h.waitForState(t, StateConnected)

	select {
	case ev := <-h.msgs:
		if ev.ID != 7 || ev.UserID != 2 || ev.Content != "hi" || ev.ClientMessageID != "c1" {
			t.Fatalf("unexpected message event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message event")
	}

	select {
	case id := <-h.deleted:
		if id != 7 {
			t.Fatalf("deleted id = %d, want 7", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delete event")
	}

	select {
	case ev := <-h.typing:
		if ev.userID != 2 || !ev.isTyping {
			t.Fatalf("unexpected typing event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for typing event")
	}
}

func TestReconnectBacksOffExponentiallyThenFails(t *testing.T) {
	h := newRecordingHandler()
	tr := New("ws://127.0.0.1:1/ws/chat", h, zerolog.New(io.Discard), Options{
		MaxReconnectAttempts: 3,
	})

	var mu sync.Mutex
	var delays []time.Duration
	tr.sleep = func(_ context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	tr.Connect(context.Background())
	h.waitForState(t, StateFailed)

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestReconnectDelayIsCapped(t *testing.T) {
	h := newRecordingHandler()
	tr := New("ws://127.0.0.1:1/ws/chat", h, zerolog.New(io.Discard), Options{
		MaxReconnectAttempts: 7,
		ReconnectCap:         8 * time.Second,
	})

	var mu sync.Mutex
	var delays []time.Duration
	tr.sleep = func(_ context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	tr.Connect(context.Background())
	h.waitForState(t, StateFailed)

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 7 {
		t.Fatalf("delays = %v, want 7 entries", delays)
	}
	for _, d := range delays {
		if d > 8*time.Second {
			t.Fatalf("delay %v exceeds cap", d)
		}
	}
	if delays[6] != 8*time.Second {
		t.Fatalf("final delay = %v, want the cap", delays[6])
	}
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h := newRecordingHandler()
	tr := New(url, h, zerolog.New(io.Discard), Options{})

	var mu sync.Mutex
	slept := 0
	tr.sleep = func(context.Context, time.Duration) bool {
		mu.Lock()
		slept++
		mu.Unlock()
		return true
	}

	tr.Connect(context.Background())
	h.waitForState(t, StateConnected)

	tr.Disconnect()
	h.waitForState(t, StateDisconnected)

	// The server-side close races the manual one; give any stray reconnect
	// a moment to show itself.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if slept != 0 {
		t.Fatalf("reconnect scheduled %d times after manual disconnect", slept)
	}
	if st := tr.Status(); st.State != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", st.State)
	}
}

func TestStaleReconnectSleeperDoesNotRedial(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	open := 0
	maxOpen := 0
	closeFirst := make(chan struct{})

	url := wsServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		dials++
		nth := dials
		open++
		if open > maxOpen {
			maxOpen = open
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			open--
			mu.Unlock()
			conn.Close()
		}()

		if nth == 1 {
			<-closeFirst
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h := newRecordingHandler()
	tr := New(url, h, zerolog.New(io.Discard), Options{})

	parked := make(chan struct{}, 1)
	release := make(chan struct{})
	tr.sleep = func(context.Context, time.Duration) bool {
		parked <- struct{}{}
		<-release
		return true
	}

	tr.Connect(context.Background())
	h.waitForState(t, StateConnected)

	// Drop the connection server-side so a reconnect sleeper gets scheduled.
	close(closeFirst)
	select {
	case <-parked:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reconnect sleeper")
	}

	// A full Disconnect/Connect cycle while the sleeper is still parked.
	tr.Disconnect()
	h.waitForState(t, StateDisconnected)
	tr.Connect(context.Background())
	defer tr.Disconnect()
	h.waitForState(t, StateConnected)

	close(release)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Fatalf("dials = %d, want 2 (stale sleeper must not redial)", dials)
	}
	if maxOpen != 1 {
		t.Fatalf("max simultaneous connections = %d, want 1", maxOpen)
	}
}

func TestWatchdogTearsDownStaleConnection(t *testing.T) {
	// The server sends nothing, so the connection is stale by construction.
	url := wsServer(t, func(conn *websocket.Conn) {
		time.Sleep(3 * time.Second)
		conn.Close()
	})

	h := newRecordingHandler()
	tr := New(url, h, zerolog.New(io.Discard), Options{
		HeartbeatInterval:    time.Hour,
		WatchdogTimeout:      50 * time.Millisecond,
		MaxReconnectAttempts: 1,
	})
	tr.sleep = func(context.Context, time.Duration) bool { return false }

	tr.Connect(context.Background())
	h.waitForState(t, StateConnected)
	st := h.waitForState(t, StateReconnecting)
	if st.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", st.Attempt)
	}
}

func TestSendsAreDroppedWhenNotConnected(t *testing.T) {
	h := newRecordingHandler()
	tr := New("ws://127.0.0.1:1/ws/chat", h, zerolog.New(io.Discard), Options{})

	tr.SendMessage("hello", "c1")
	tr.SendDelete(4)
	tr.SendTyping(true)

	if st := tr.Status(); st.State != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", st.State)
	}
}

func TestSendTypingUsesStartAndStopFrames(t *testing.T) {
	frames := make(chan string, 4)
	url := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	})

	h := newRecordingHandler()
	tr := New(url, h, zerolog.New(io.Discard), Options{})
	tr.Connect(context.Background())
	defer tr.Disconnect()
	h.waitForState(t, StateConnected)

	tr.SendTyping(true)
	tr.SendTyping(false)

	first := <-frames
	second := <-frames
	if !strings.Contains(first, `"type":"start_typing"`) || !strings.Contains(first, `"is_typing":true`) {
		t.Fatalf("first frame = %s", first)
	}
	if !strings.Contains(second, `"type":"stop_typing"`) || !strings.Contains(second, `"is_typing":false`) {
		t.Fatalf("second frame = %s", second)
	}
}
