package connection

import "time"

func (m *Manager) DisconnectIfStale(id string, now time.Time) bool {
	return m.disconnectIfStale(id, now)
}
