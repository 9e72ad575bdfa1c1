package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pagechatgo/internal/services/presence"
)

// RoomDetacher unbinds a connection from a room's delivery set. Satisfied by
// the websocket hub.
type RoomDetacher interface {
	Detach(roomID, connID string)
}

// Run starts the periodic sweep that evicts empty rooms past their grace
// period and stale members past their inactivity timeout. Evicted connections
// are detached from the hub so they stop receiving room traffic. It returns
// immediately; the sweep goroutine stops when ctx is cancelled. Sweeps share
// the service's locking with live operations and never block them for longer
// than one pass.
func Run(ctx context.Context, svc presence.IPresenceService, hub RoomDetacher, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		zap.L().Info("janitor.started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				zap.L().Info("janitor.stopped")
				return
			case <-t.C:
				res := svc.Sweep(time.Now())
				for _, ev := range res.Evicted {
					hub.Detach(ev.RoomID, ev.ConnID)
				}
				if res.RoomsRemoved > 0 || res.UsersRemoved > 0 {
					zap.L().Info("janitor.sweep",
						zap.Int("rooms_removed", res.RoomsRemoved),
						zap.Int("users_removed", res.UsersRemoved),
					)
				}
			}
		}
	}()
}
