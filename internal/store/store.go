package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

var (
	ErrClosed = errors.New("store: closed")
	// ErrConflict is returned when an optimistic append keeps losing races.
	ErrConflict = errors.New("store: too many concurrent writers")
)

const (
	DefaultMaxTurns = 20
	DefaultTTL      = time.Hour
)

type Options struct {
	MaxTurns int
	TTL      time.Duration
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Sweeper is implemented by stores that do not expire entries natively.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// merge appends turns to history, stamps missing timestamps, and keeps
// only the most recent maxTurns. history is never modified.
func merge(history []relay.Turn, turns []relay.Turn, maxTurns int, now time.Time) []relay.Turn {
	out := make([]relay.Turn, 0, len(history)+len(turns))
	out = append(out, history...)
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		out = append(out, t)
	}
	if len(out) > maxTurns {
		out = append([]relay.Turn(nil), out[len(out)-maxTurns:]...)
	}
	return out
}

func jsonTurns(turns []relay.Turn) (string, error) {
	b, err := json.Marshal(turns)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
