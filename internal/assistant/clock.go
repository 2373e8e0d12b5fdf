package assistant

import "time"

// Clock is the engine's only source of the current time, injected so tests
// can pin it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
