package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.klb.dev/ledgersync/internal/localstore"
)

// Session ties the local cache to a Client for one Sync ID at a time. The
// local copy is always written; the remote copy only when a Sync ID is set.
type Session struct {
	local    *localstore.Store
	client   *Client
	tracker  Tracker
	onStatus func(Status)

	mu     sync.Mutex
	secret string
	status Status
}

// NewSession returns a Session using the Sync ID already stored in local.
// onStatus, if non-nil, is called on every status change.
func NewSession(local *localstore.Store, client *Client, onStatus func(Status)) *Session {
	return &Session{
		local:    local,
		client:   client,
		onStatus: onStatus,
		secret:   local.GetSyncID(),
	}
}

// Secret returns the current Sync ID.
func (s *Session) Secret() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == "" {
		return StatusOff
	}
	return s.status
}

func (s *Session) setStatus(gen uint64, st Status) {
	if gen != 0 && !s.tracker.Current(gen) {
		return
	}
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed && s.onStatus != nil {
		s.onStatus(st)
	}
}

// Connect stores secret as the Sync ID. An empty secret disconnects.
func (s *Session) Connect(secret string) {
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	s.local.SetSyncID(secret)
	s.tracker.Begin()
	if secret == "" {
		s.setStatus(0, StatusOff)
	}
}

// Open returns the payload for month: the remote copy when one exists and
// decrypts, the local copy otherwise. A remote copy replaces the local one.
// The returned bool is false when a newer Open or Connect superseded this
// one; the data is then the local copy.
func (s *Session) Open(ctx context.Context, month string) (json.RawMessage, bool) {
	gen := s.tracker.Begin()
	data := s.local.LoadLocal(month)

	secret := s.Secret()
	if secret == "" {
		s.setStatus(gen, StatusOff)
		return data, true
	}

	s.setStatus(gen, StatusLoading)
	res := s.client.LoadRemote(ctx, secret, month)
	if !s.tracker.Current(gen) {
		slog.Debug("discarding stale remote load", "month", month)
		return data, false
	}
	if !res.OK {
		s.setStatus(gen, StatusError)
		return data, true
	}
	s.setStatus(gen, StatusOK)
	if res.Data == nil {
		return data, true
	}
	if err := s.local.SaveLocal(month, res.Data); err != nil {
		slog.Warn("local mirror of remote data failed", "month", month, "err", err)
	}
	return res.Data, true
}

// Save records payload for month locally and, when connected, remotely.
// Both writes are debounced.
func (s *Session) Save(month string, payload any) {
	s.local.SaveLocalDebounced(month, payload)

	secret := s.Secret()
	if secret == "" {
		return
	}
	gen := s.tracker.Latest()
	s.client.SaveRemoteDebounced(secret, month, payload, func(ok bool) {
		if ok {
			s.setStatus(gen, StatusOK)
		} else {
			s.setStatus(gen, StatusError)
		}
	})
}

// Flush performs pending local and remote writes now.
func (s *Session) Flush() {
	s.local.Flush()
	s.client.Flush()
}
