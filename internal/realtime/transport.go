// Package realtime is the client side of the chat websocket: one duplex
// connection with heartbeat, staleness watchdog and bounded exponential
// reconnect. Consumers observe it through the Handler interface and never
// touch the socket directly.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status pairs the state with the reconnect attempt counter, which is only
// meaningful while reconnecting.
type Status struct {
	State   State
	Attempt int
}

// MessageEvent is an inbound chat message delivered to the handler.
type MessageEvent struct {
	ID              int64
	UserID          int64
	UserName        string
	Content         string
	CreatedAt       time.Time
	ClientMessageID string
}

// Handler receives everything the transport produces. Calls arrive from the
// transport's internal goroutines; implementations do their own locking.
type Handler interface {
	HandleMessage(ev MessageEvent)
	HandleMessageDeleted(messageID int64)
	HandleTyping(userID int64, userName string, isTyping bool)
	HandlePresence(userID int64, userName string, online bool)
	HandleStateChange(st Status)
}

// Options tunes the transport. Zero values fall back to the defaults below.
type Options struct {
	HeartbeatInterval    time.Duration
	WatchdogTimeout      time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration

	// Header supplies per-dial HTTP headers, typically authorization.
	Header func() http.Header
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultWatchdogTimeout   = 90 * time.Second
	defaultReconnectBase     = 1 * time.Second
	defaultReconnectCap      = 30 * time.Second
	defaultMaxReconnects     = 10
	defaultDialTimeout       = 10 * time.Second
)

// Transport is the resilient websocket client. All exported methods are safe
// for concurrent use.
type Transport struct {
	url     string
	handler Handler
	logger  zerolog.Logger
	opts    Options

	mu        sync.Mutex
	state     State
	attempt   int
	manual    bool
	gen       int
	conn      *websocket.Conn
	lastFrame time.Time
	backoff   *backoff.ExponentialBackOff

	writeMu sync.Mutex

	// sleep is swapped out by tests to make reconnect delays observable.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New builds a transport for the given websocket URL. Connect must be called
// before any traffic flows.
func New(url string, handler Handler, logger zerolog.Logger, opts Options) *Transport {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = defaultWatchdogTimeout
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = defaultReconnectCap
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnects
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectBase
	bo.Multiplier = 2
	bo.MaxInterval = opts.ReconnectCap
	bo.RandomizationFactor = 0
	bo.Reset()

	return &Transport{
		url:     url,
		handler: handler,
		logger:  logger,
		opts:    opts,
		state:   StateDisconnected,
		backoff: bo,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Status reports the current connection state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{State: t.state, Attempt: t.attempt}
}

// Connect starts the connection lifecycle. It is a no-op unless the
// transport is disconnected or failed; a reconnecting transport keeps its
// own schedule.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	if t.state != StateDisconnected && t.state != StateFailed {
		t.mu.Unlock()
		return
	}
	t.manual = false
	t.attempt = 0
	t.backoff.Reset()
	t.mu.Unlock()

	go t.performConnect(ctx)
}

// Disconnect tears the connection down and suppresses reconnection until the
// next Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.manual = true
	t.gen++
	if t.conn != nil {
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		t.conn.Close()
		t.conn = nil
	}
	t.attempt = 0
	changed := t.state != StateDisconnected
	t.state = StateDisconnected
	t.mu.Unlock()

	if changed {
		t.notifyState()
	}
}

func (t *Transport) performConnect(ctx context.Context) {
	t.mu.Lock()
	if t.manual {
		t.mu.Unlock()
		return
	}
	if t.attempt > 0 {
		t.state = StateReconnecting
	} else {
		t.state = StateConnecting
	}
	gen := t.gen
	t.mu.Unlock()
	t.notifyState()

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.DialTimeout}
	var header http.Header
	if t.opts.Header != nil {
		header = t.opts.Header()
	}
	conn, resp, err := dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.logger.Debug().Err(err).Msg("websocket dial failed")
		t.handleDisconnect(ctx, gen)
		return
	}

	t.mu.Lock()
	if t.manual || gen != t.gen {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.lastFrame = time.Now()
	t.attempt = 0
	t.backoff.Reset()
	t.state = StateConnected
	gen = t.gen
	t.mu.Unlock()
	t.notifyState()
	t.logger.Info().Str("url", t.url).Msg("websocket connected")

	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})
	echoPing := conn.PingHandler()
	conn.SetPingHandler(func(appData string) error {
		t.touch()
		return echoPing(appData)
	})

	go t.readLoop(ctx, conn, gen)
	go t.heartbeatLoop(ctx, conn, gen)
	go t.watchdogLoop(ctx, gen)
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Debug().Err(err).Msg("websocket read failed")
			t.handleDisconnect(ctx, gen)
			return
		}
		t.touch()
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.logger.Warn().Err(err).Msg("undecodable frame")
		return
	}
	framesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case frameNewMessage:
		var p messagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.logger.Warn().Err(err).Msg("undecodable new_message payload")
			return
		}
		t.handler.HandleMessage(MessageEvent{
			ID:              p.ID,
			UserID:          p.UserID,
			UserName:        p.UserName,
			Content:         p.Content,
			CreatedAt:       p.CreatedAt,
			ClientMessageID: p.ClientMessageID,
		})
	case frameMessageDeleted:
		var p messageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.logger.Warn().Err(err).Msg("undecodable message_deleted payload")
			return
		}
		t.handler.HandleMessageDeleted(p.MessageID)
	case frameTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.logger.Warn().Err(err).Msg("undecodable typing payload")
			return
		}
		t.handler.HandleTyping(p.UserID, p.UserName, p.IsTyping)
	case frameUserOnline, frameUserOffline:
		var p presencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.logger.Warn().Err(err).Msg("undecodable presence payload")
			return
		}
		t.handler.HandlePresence(p.UserID, p.UserName, env.Type == frameUserOnline)
	default:
		// Unknown frame types are tolerated so the server can evolve.
	}
}

// heartbeatLoop sends protocol pings on a fixed cadence. Sends are best
// effort; a dead connection is the watchdog's job to notice.
func (t *Transport) heartbeatLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !t.current(gen) {
				return
			}
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug().Err(err).Msg("heartbeat ping failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchdogLoop tears the connection down when no frame of any kind has
// arrived for a full timeout window.
func (t *Transport) watchdogLoop(ctx context.Context, gen int) {
	ticker := time.NewTicker(t.opts.WatchdogTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !t.current(gen) {
				return
			}
			t.mu.Lock()
			stale := time.Since(t.lastFrame) > t.opts.WatchdogTimeout
			conn := t.conn
			t.mu.Unlock()
			if stale {
				t.logger.Warn().Msg("websocket stale, tearing down")
				watchdogTrips.Inc()
				if conn != nil {
					conn.Close()
				}
				t.handleDisconnect(ctx, gen)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleDisconnect runs exactly once per connection generation. It either
// schedules a delayed reconnect or transitions to failed when the attempt
// budget is spent.
func (t *Transport) handleDisconnect(ctx context.Context, gen int) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.gen++
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.manual {
		t.mu.Unlock()
		return
	}
	if t.attempt >= t.opts.MaxReconnectAttempts {
		t.state = StateFailed
		t.mu.Unlock()
		t.notifyState()
		t.logger.Warn().Int("attempts", t.opts.MaxReconnectAttempts).Msg("websocket reconnect budget exhausted")
		return
	}
	t.attempt++
	t.state = StateReconnecting
	delay := t.backoff.NextBackOff()
	attempt := t.attempt
	gen = t.gen
	t.mu.Unlock()
	t.notifyState()

	reconnects.Inc()
	t.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("websocket reconnecting")

	// The sleeper re-checks its generation on waking: a Disconnect/Connect
	// cycle while it was parked must not dial a second connection into the
	// new lifecycle.
	go func() {
		if !t.sleep(ctx, delay) {
			return
		}
		t.mu.Lock()
		stale := gen != t.gen || t.manual
		t.mu.Unlock()
		if stale {
			return
		}
		t.performConnect(ctx)
	}()
}

// SendMessage publishes a chat message over the socket. Dropped silently
// when not connected; the chat service owns durable delivery.
func (t *Transport) SendMessage(content, clientMessageID string) {
	t.sendFrame(frameSendMessage, sendMessagePayload{Content: content, ClientMessageID: clientMessageID})
}

// SendDelete publishes a message deletion.
func (t *Transport) SendDelete(messageID int64) {
	t.sendFrame(frameDeleteMessage, deleteMessagePayload{MessageID: messageID})
}

// SendTyping publishes a typing indicator.
func (t *Transport) SendTyping(isTyping bool) {
	frameType := frameStopTyping
	if isTyping {
		frameType = frameStartTyping
	}
	t.sendFrame(frameType, typingIndicatorPayload{IsTyping: isTyping})
}

func (t *Transport) sendFrame(frameType string, payload any) {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !connected || conn == nil {
		framesDropped.Inc()
		return
	}

	data, err := encodeFrame(frameType, payload)
	if err != nil {
		t.logger.Error().Err(err).Str("type", frameType).Msg("failed to encode frame")
		return
	}
	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		t.logger.Debug().Err(err).Str("type", frameType).Msg("frame send failed")
	}
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.lastFrame = time.Now()
	t.mu.Unlock()
}

func (t *Transport) current(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

func (t *Transport) notifyState() {
	st := t.Status()
	connectionState.Set(float64(st.State))
	t.handler.HandleStateChange(st)
}
