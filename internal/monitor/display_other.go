//go:build !linux && !windows

package monitor

import "context"

// stubDisplayCounter always reports a single display. Hosts on platforms
// without a built-in counter supply their own DisplayCounter.
type stubDisplayCounter struct{}

// NewDisplayCounter returns the platform display counter.
func NewDisplayCounter() (DisplayCounter, error) {
	return &stubDisplayCounter{}, nil
}

func (c *stubDisplayCounter) Count(ctx context.Context) (int, string, error) {
	return 1, "platform counter unavailable", nil
}
