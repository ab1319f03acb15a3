//go:build windows

package monitor

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")
)

// smCMonitors is the GetSystemMetrics index for the display monitor count.
const smCMonitors = 80

// winDisplayCounter counts display monitors via GetSystemMetrics.
type winDisplayCounter struct{}

// NewDisplayCounter returns the platform display counter.
func NewDisplayCounter() (DisplayCounter, error) {
	if err := procGetSystemMetrics.Find(); err != nil {
		return nil, fmt.Errorf("resolve GetSystemMetrics: %w", err)
	}
	return &winDisplayCounter{}, nil
}

func (c *winDisplayCounter) Count(ctx context.Context) (int, string, error) {
	n, _, _ := procGetSystemMetrics.Call(uintptr(smCMonitors))
	count := int(n)
	if count <= 0 {
		// GetSystemMetrics returns 0 on failure; degrade to one display.
		count = 1
	}
	return count, fmt.Sprintf("system metrics monitors=%d", count), nil
}
