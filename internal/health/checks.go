package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDisconnected is reported by [Connected] while the link is down.
var ErrDisconnected = errors.New("not connected")

// Connected reports the link named name as healthy while connected returns true.
func Connected(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !connected() {
				return ErrDisconnected
			}
			return nil
		},
	}
}

// Ping wraps a dependency's Ping method. Ping checks are optional.
func Ping(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping, Optional: true}
}

// NoRecentFault fails while the most recent fault reported by last happened
// within window. last returns false when no fault was ever recorded.
func NoRecentFault(name string, window time.Duration, last func() (time.Time, bool)) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			at, ok := last()
			if !ok {
				return nil
			}
			if age := time.Since(at); age < window {
				return fmt.Errorf("faulted %s ago", age.Round(time.Second))
			}
			return nil
		},
	}
}
