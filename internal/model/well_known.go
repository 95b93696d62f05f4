package model

// WellKnown is served to clients so they can discover where to connect.
type WellKnown struct {
	Version string `json:"version"`

	Addr          string   `json:"consoleServerAddr"`
	WebsocketPath string   `json:"websocketPath"`
	Subprotocols  []string `json:"subprotocols"`
	TokenPath     string   `json:"tokenPath"`
}
