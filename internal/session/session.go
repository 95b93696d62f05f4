package session

import (
	"slices"
	"time"

	"github.com/dimspell/tavern/internal/wire"
)

type Status string

const (
	StatusLobby  Status = "lobby"
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Player is a user's membership record within a session. It outlives a
// dropped connection until the user leaves or the reconnect grace expires.
type Player struct {
	UserID        string
	DisplayName   string
	CharacterID   string
	CharacterName string
	IsDM          bool
	IsReady       bool
	JoinedAt      time.Time

	// IsConnected is derived from the connection bindings whenever a
	// snapshot is taken.
	IsConnected bool

	seq uint64
}

type Session struct {
	ID         string
	InviteCode string
	Name       string
	CampaignID string
	HostUserID string
	Status     Status
	MaxPlayers int
	IsPrivate  bool

	// Players are kept in join order.
	Players []Player

	TurnOrder []string
	TurnIndex int
	Round     int

	CreatedAt time.Time
	StartedAt time.Time
}

func (s *Session) clone() Session {
	c := *s
	c.Players = slices.Clone(s.Players)
	c.TurnOrder = slices.Clone(s.TurnOrder)
	return c
}

func (s *Session) indexOf(userID string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.UserID == userID })
}

func (s Session) Player(userID string) (Player, bool) {
	if i := s.indexOf(userID); i >= 0 {
		return s.Players[i], true
	}
	return Player{}, false
}

func (s Session) IsMember(userID string) bool { return s.indexOf(userID) >= 0 }

// CurrentTurn returns the user holding the turn of an active session.
func (s Session) CurrentTurn() string {
	if s.Status != StatusActive || len(s.TurnOrder) == 0 {
		return ""
	}
	return s.TurnOrder[s.TurnIndex%len(s.TurnOrder)]
}

func (s Session) PlayerInfos() []wire.PlayerInfo {
	out := make([]wire.PlayerInfo, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, wire.PlayerInfo{
			UserID:        p.UserID,
			DisplayName:   p.DisplayName,
			CharacterID:   p.CharacterID,
			CharacterName: p.CharacterName,
			IsDM:          p.IsDM,
			IsReady:       p.IsReady,
			IsConnected:   p.IsConnected,
			IsHost:        p.UserID == s.HostUserID,
		})
	}
	return out
}

func (s Session) Info() wire.SessionInfo {
	info := wire.SessionInfo{
		ID:          s.ID,
		InviteCode:  s.InviteCode,
		Name:        s.Name,
		CampaignID:  s.CampaignID,
		HostUserID:  s.HostUserID,
		Status:      string(s.Status),
		MaxPlayers:  s.MaxPlayers,
		IsPrivate:   s.IsPrivate,
		Players:     s.PlayerInfos(),
		CurrentTurn: s.CurrentTurn(),
	}
	if s.Status == StatusActive {
		info.Round = s.Round
	}
	return info
}

// PlayerList builds the membership snapshot broadcast after every change.
func (s Session) PlayerList() *wire.PlayerListPayload {
	return &wire.PlayerListPayload{
		SessionID:  s.ID,
		HostUserID: s.HostUserID,
		Status:     string(s.Status),
		Players:    s.PlayerInfos(),
	}
}
