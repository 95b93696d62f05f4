package action

import "time"

var (
	// Console
	defaultConsoleAddr = "127.0.0.1:2137"

	// SQLite config
	defaultDatabasePath = "tavern.sqlite"
	defaultDatabaseType = "memory"

	// Tokens
	defaultTokenExpiry = 24 * time.Hour
)

// Untyped so they fit the integer flags.
const (
	defaultMaxConnectionsPerUser = 3
	defaultSendQueueSize         = 64
	defaultMinPlayers            = 2
	defaultMaxPlayers            = 6
)
