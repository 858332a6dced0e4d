package remote

import "sync/atomic"

// Status is the caller-visible sync indicator.
type Status int

const (
	StatusOff Status = iota
	StatusLoading
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOff:
		return "off"
	case StatusLoading:
		return "loading"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Tracker hands out load generations so a caller can discard a result that
// arrives after the user has moved on to another month or Sync ID.
type Tracker struct {
	gen atomic.Uint64
}

// Begin starts a new generation and returns it.
func (t *Tracker) Begin() uint64 {
	return t.gen.Add(1)
}

// Current reports whether gen is still the latest generation.
func (t *Tracker) Current(gen uint64) bool {
	return t.gen.Load() == gen
}

// Latest returns the current generation without starting a new one.
func (t *Tracker) Latest() uint64 {
	return t.gen.Load()
}
