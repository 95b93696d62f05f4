package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/dimspell/tavern/internal/app/logger/logging"
)

// Sweep disconnects every connection whose last heartbeat is older than the
// heartbeat timeout and returns the ids it disconnected. Staleness is checked
// again at removal, so a frame arriving mid-sweep keeps its connection.
func (m *Manager) Sweep(now time.Time) []string {
	if m.cfg.HeartbeatTimeout <= 0 {
		return nil
	}

	m.mu.RLock()
	var stale []string
	for id, conn := range m.conns {
		if now.Sub(conn.lastHeartbeat) > m.cfg.HeartbeatTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	var reaped []string
	for _, id := range stale {
		if !m.disconnectIfStale(id, now) {
			continue
		}
		slog.Info("Heartbeat timed out", logging.ConnID(id))
		reaped = append(reaped, id)
	}
	return reaped
}

// RunSweeper calls Sweep on every sweep interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
