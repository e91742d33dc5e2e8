package meshtastic

import (
	"sync/atomic"
	"time"

	"github.com/soyeahso/meshgate/internal/domain"
)

// Status tracks one account's runtime state. It has a single writer per
// account and any number of concurrent readers.
type Status struct {
	accountID string

	running        atomic.Bool
	connected      atomic.Bool
	lastInboundAt  atomic.Int64 // unix nanos, 0 = never
	lastOutboundAt atomic.Int64
	lastError      atomic.Pointer[string]
}

func newStatus(accountID string) *Status {
	return &Status{accountID: accountID}
}

func (s *Status) setRunning(v bool)   { s.running.Store(v) }
func (s *Status) setConnected(v bool) { s.connected.Store(v) }

func (s *Status) markInbound(t time.Time)  { s.lastInboundAt.Store(t.UnixNano()) }
func (s *Status) markOutbound(t time.Time) { s.lastOutboundAt.Store(t.UnixNano()) }

func (s *Status) setError(err error) {
	if err == nil {
		s.lastError.Store(nil)
		return
	}
	msg := err.Error()
	s.lastError.Store(&msg)
}

// Snapshot returns a copy suitable for status reporting.
func (s *Status) Snapshot() domain.ChannelStatus {
	st := domain.ChannelStatus{
		ChannelID:      domain.ChannelMeshtastic,
		AccountID:      s.accountID,
		Connected:      s.connected.Load(),
		Running:        s.running.Load(),
		LastInboundAt:  unixPtr(s.lastInboundAt.Load()),
		LastOutboundAt: unixPtr(s.lastOutboundAt.Load()),
	}
	if msg := s.lastError.Load(); msg != nil {
		st.LastError = *msg
	}
	return st
}

func unixPtr(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n)
	return &t
}
