// Package netmon tracks server reachability with a periodic lightweight
// probe. The reconciliation engine consults it instead of discovering
// offline state through request timeouts.
package netmon

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Monitor probes the server and caches the result. The zero value is not
// usable; construct with New.
type Monitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   zerolog.Logger
	online   atomic.Bool
	onChange func(online bool)
}

// New builds a monitor that probes url every interval. The monitor starts
// optimistic: callers see online until the first probe says otherwise.
func New(url string, interval time.Duration, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
	m.online.Store(true)
	return m
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool { return m.online.Load() }

// SetOnChange registers a callback fired on every reachability flip.
func (m *Monitor) SetOnChange(fn func(online bool)) { m.onChange = fn }

// SetOnline overrides the cached state. Used by tests and by callers that
// learn about reachability out of band.
func (m *Monitor) SetOnline(online bool) {
	was := m.online.Swap(online)
	if was != online && m.onChange != nil {
		m.onChange(online)
	}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		m.SetOnline(false)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if m.Online() {
			m.logger.Info().Err(err).Msg("server unreachable")
		}
		m.SetOnline(false)
		return
	}
	resp.Body.Close()
	if !m.Online() {
		m.logger.Info().Msg("server reachable again")
	}
	m.SetOnline(true)
}
