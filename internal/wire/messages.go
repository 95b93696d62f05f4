package wire

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the longest chat or whisper body, in characters.
const MaxMessageLength = 1000

// Payload is the body of a frame. The concrete type is selected by the frame
// type, so handlers receive a typed value instead of a free-form map.
type Payload interface {
	Type() Type
}

// Message is a single frame travelling over the wire in either direction.
type Message struct {
	Type          Type
	Timestamp     int64
	CorrelationID string
	Payload       Payload
}

// New wraps the payload into a frame stamped with the current time.
func New(p Payload) Message {
	return Message{
		Type:      p.Type(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   p,
	}
}

// Reply wraps the payload into a frame answering the request, so the client
// can match it by its correlation id.
func Reply(req Message, p Payload) Message {
	m := New(p)
	m.CorrelationID = req.CorrelationID
	return m
}

// NewError builds an ERROR frame.
func NewError(code, message string) Message {
	return New(&ErrorPayload{Code: code, Message: message})
}

// --- Client requests ---

type PingRequest struct{}

func (*PingRequest) Type() Type { return Ping }

type AuthenticateRequest struct {
	Token string `json:"token"`
}

func (*AuthenticateRequest) Type() Type { return Authenticate }

func (r *AuthenticateRequest) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return &ValidationError{Code: CodeInvalidPayload, Message: "token is required"}
	}
	return nil
}

type CreateSessionRequest struct {
	Name          string `json:"name,omitempty"`
	CampaignID    string `json:"campaignId,omitempty"`
	MaxPlayers    int    `json:"maxPlayers,omitempty"`
	IsPrivate     bool   `json:"isPrivate,omitempty"`
	CharacterID   string `json:"characterId,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
}

func (*CreateSessionRequest) Type() Type { return CreateSession }

type JoinSessionRequest struct {
	SessionID     string `json:"sessionId,omitempty"`
	InviteCode    string `json:"inviteCode,omitempty"`
	CharacterID   string `json:"characterId,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
}

func (*JoinSessionRequest) Type() Type { return JoinSession }

func (r *JoinSessionRequest) Validate() error {
	hasID := strings.TrimSpace(r.SessionID) != ""
	hasCode := strings.TrimSpace(r.InviteCode) != ""
	if hasID == hasCode {
		return &ValidationError{Code: CodeInvalidPayload, Message: "exactly one of sessionId or inviteCode is required"}
	}
	return nil
}

// Identifier returns whichever of the session id and the invite code is set.
func (r *JoinSessionRequest) Identifier() string {
	if id := strings.TrimSpace(r.SessionID); id != "" {
		return id
	}
	return strings.TrimSpace(r.InviteCode)
}

type LeaveSessionRequest struct{}

func (*LeaveSessionRequest) Type() Type { return LeaveSession }

type EndSessionRequest struct{}

func (*EndSessionRequest) Type() Type { return EndSession }

type PlayerReadyRequest struct {
	Ready         bool   `json:"ready"`
	CharacterID   string `json:"characterId,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
}

func (*PlayerReadyRequest) Type() Type { return PlayerReady }

type GameStartRequest struct{}

func (*GameStartRequest) Type() Type { return GameStart }

type ChatMessageRequest struct {
	Content     string `json:"content"`
	InCharacter bool   `json:"inCharacter,omitempty"`
}

func (*ChatMessageRequest) Type() Type { return ChatMessage }

func (r *ChatMessageRequest) Validate() error { return validateContent(r.Content) }

type WhisperRequest struct {
	TargetUserID string `json:"targetUserId"`
	Content      string `json:"content"`
}

func (*WhisperRequest) Type() Type { return Whisper }

func (r *WhisperRequest) Validate() error {
	if strings.TrimSpace(r.TargetUserID) == "" {
		return &ValidationError{Code: CodeInvalidPayload, Message: "targetUserId is required"}
	}
	return validateContent(r.Content)
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Code: CodeEmptyMessage, Message: "message cannot be empty"}
	}
	if n := utf8.RuneCountInString(content); n > MaxMessageLength {
		return &ValidationError{Code: CodeMessageTooLong, Message: "message exceeds 1000 characters"}
	}
	return nil
}

type TurnEndRequest struct{}

func (*TurnEndRequest) Type() Type { return TurnEnd }

type ActionRequestPayload struct {
	Action   string `json:"action"`
	TargetID string `json:"targetId,omitempty"`
}

func (*ActionRequestPayload) Type() Type { return ActionRequest }

func (r *ActionRequestPayload) Validate() error {
	if strings.TrimSpace(r.Action) == "" {
		return &ValidationError{Code: CodeInvalidPayload, Message: "action is required"}
	}
	return nil
}

type DiceRollRequest struct {
	Expression string `json:"expression"`
	Reason     string `json:"reason,omitempty"`
}

func (*DiceRollRequest) Type() Type { return DiceRoll }

func (r *DiceRollRequest) Validate() error {
	if strings.TrimSpace(r.Expression) == "" {
		return &ValidationError{Code: CodeInvalidDice, Message: "dice expression is required"}
	}
	return nil
}

type MoveTokenRequest struct {
	TokenID string `json:"tokenId"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

func (*MoveTokenRequest) Type() Type { return MoveToken }

func (r *MoveTokenRequest) Validate() error {
	if strings.TrimSpace(r.TokenID) == "" {
		return &ValidationError{Code: CodeInvalidPayload, Message: "tokenId is required"}
	}
	return nil
}

// --- Server messages ---

type PongPayload struct {
	ServerTime int64 `json:"serverTime"`
}

func (*PongPayload) Type() Type { return Pong }

type AuthenticatedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
}

func (*AuthenticatedPayload) Type() Type { return Authenticated }

// ErrorPayload is shared by ERROR, AUTH_ERROR and SESSION_ERROR frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	kind Type
}

func (p *ErrorPayload) Type() Type {
	if p.kind == "" {
		return Error
	}
	return p.kind
}

// NewAuthError builds an AUTH_ERROR payload.
func NewAuthError(code, message string) *ErrorPayload {
	return &ErrorPayload{Code: code, Message: message, kind: AuthError}
}

// NewSessionError builds a SESSION_ERROR payload.
func NewSessionError(code, message string) *ErrorPayload {
	return &ErrorPayload{Code: code, Message: message, kind: SessionError}
}

type PlayerInfo struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	CharacterID   string `json:"characterId,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
	IsDM          bool   `json:"isDM"`
	IsReady       bool   `json:"isReady"`
	IsConnected   bool   `json:"isConnected"`
	IsHost        bool   `json:"isHost"`
}

type SessionInfo struct {
	ID          string       `json:"id"`
	InviteCode  string       `json:"inviteCode"`
	Name        string       `json:"name"`
	CampaignID  string       `json:"campaignId,omitempty"`
	HostUserID  string       `json:"hostUserId"`
	Status      string       `json:"status"`
	MaxPlayers  int          `json:"maxPlayers"`
	IsPrivate   bool         `json:"isPrivate"`
	Players     []PlayerInfo `json:"players"`
	CurrentTurn string       `json:"currentTurn,omitempty"`
	Round       int          `json:"round,omitempty"`
}

type SessionCreatedPayload struct {
	Session SessionInfo `json:"session"`
}

func (*SessionCreatedPayload) Type() Type { return SessionCreated }

type SessionJoinedPayload struct {
	Session SessionInfo `json:"session"`
}

func (*SessionJoinedPayload) Type() Type { return SessionJoined }

type SessionLeftPayload struct {
	SessionID string `json:"sessionId"`
}

func (*SessionLeftPayload) Type() Type { return SessionLeft }

type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

func (*SessionEndedPayload) Type() Type { return SessionEnded }

type PlayerListPayload struct {
	SessionID  string       `json:"sessionId"`
	HostUserID string       `json:"hostUserId"`
	Status     string       `json:"status"`
	Players    []PlayerInfo `json:"players"`
}

func (*PlayerListPayload) Type() Type { return PlayerList }

type GameStartedPayload struct {
	Session   SessionInfo `json:"session"`
	StartedAt int64       `json:"startedAt"`
}

func (*GameStartedPayload) Type() Type { return GameStart }

type ChatBroadcastPayload struct {
	SessionID     string `json:"sessionId"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	CharacterName string `json:"characterName,omitempty"`
	InCharacter   bool   `json:"inCharacter"`
	Content       string `json:"content"`
}

func (*ChatBroadcastPayload) Type() Type { return ChatBroadcast }

type WhisperReceivedPayload struct {
	SessionID       string `json:"sessionId"`
	FromUserID      string `json:"fromUserId"`
	FromDisplayName string `json:"fromDisplayName"`
	ToUserID        string `json:"toUserId"`
	Content         string `json:"content"`
	Echo            bool   `json:"echo"`
}

func (*WhisperReceivedPayload) Type() Type { return WhisperReceived }

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

type SystemMessagePayload struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

func (*SystemMessagePayload) Type() Type { return SystemMessage }

type TurnEndedPayload struct {
	SessionID  string `json:"sessionId"`
	EndedBy    string `json:"endedBy"`
	NextUserID string `json:"nextUserId"`
	Round      int    `json:"round"`
}

func (*TurnEndedPayload) Type() Type { return TurnEnd }

type ActionAnnouncedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	TargetID  string `json:"targetId,omitempty"`
}

func (*ActionAnnouncedPayload) Type() Type { return ActionRequest }

type DiceRolledPayload struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Expression  string `json:"expression"`
	Rolls       []int  `json:"rolls"`
	Modifier    int    `json:"modifier"`
	Total       int    `json:"total"`
	Reason      string `json:"reason,omitempty"`
}

func (*DiceRolledPayload) Type() Type { return DiceRoll }

type TokenMovedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	TokenID   string `json:"tokenId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

func (*TokenMovedPayload) Type() Type { return TokenMoved }
