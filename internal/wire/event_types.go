package wire

// Type identifies the shape of a frame payload.
type Type string

const (
	Ping         Type = "PING"
	Pong         Type = "PONG"
	Authenticate Type = "AUTHENTICATE"

	Authenticated Type = "AUTHENTICATED"
	AuthError     Type = "AUTH_ERROR"

	CreateSession Type = "CREATE_SESSION"
	JoinSession   Type = "JOIN_SESSION"
	LeaveSession  Type = "LEAVE_SESSION"
	EndSession    Type = "END_SESSION"
	PlayerReady   Type = "PLAYER_READY"
	GameStart     Type = "GAME_START"

	SessionCreated Type = "SESSION_CREATED"
	SessionJoined  Type = "SESSION_JOINED"
	SessionLeft    Type = "SESSION_LEFT"
	SessionEnded   Type = "SESSION_ENDED"
	SessionError   Type = "SESSION_ERROR"
	PlayerList     Type = "PLAYER_LIST"

	ChatMessage     Type = "CHAT_MESSAGE"
	ChatBroadcast   Type = "CHAT_BROADCAST"
	Whisper         Type = "WHISPER"
	WhisperReceived Type = "WHISPER_RECEIVED"
	SystemMessage   Type = "SYSTEM_MESSAGE"

	TurnEnd       Type = "TURN_END"
	ActionRequest Type = "ACTION_REQUEST"
	DiceRoll      Type = "DICE_ROLL"
	MoveToken     Type = "MOVE_TOKEN"
	TokenMoved    Type = "TOKEN_MOVED"

	Error Type = "ERROR"
)

func (t Type) String() string { return string(t) }

// inbound lists the types a client is allowed to send, together with the
// constructor of the payload the frame is decoded into.
var inbound = map[Type]func() Payload{
	Ping:          func() Payload { return &PingRequest{} },
	Authenticate:  func() Payload { return &AuthenticateRequest{} },
	CreateSession: func() Payload { return &CreateSessionRequest{} },
	JoinSession:   func() Payload { return &JoinSessionRequest{} },
	LeaveSession:  func() Payload { return &LeaveSessionRequest{} },
	EndSession:    func() Payload { return &EndSessionRequest{} },
	PlayerReady:   func() Payload { return &PlayerReadyRequest{} },
	GameStart:     func() Payload { return &GameStartRequest{} },
	ChatMessage:   func() Payload { return &ChatMessageRequest{} },
	Whisper:       func() Payload { return &WhisperRequest{} },
	TurnEnd:       func() Payload { return &TurnEndRequest{} },
	ActionRequest: func() Payload { return &ActionRequestPayload{} },
	DiceRoll:      func() Payload { return &DiceRollRequest{} },
	MoveToken:     func() Payload { return &MoveTokenRequest{} },
}

// IsInbound reports whether clients may send frames of the given type.
func IsInbound(t Type) bool {
	_, ok := inbound[t]
	return ok
}

// AllowedBeforeAuth reports whether a frame of the given type may be handled
// on a connection that has not authenticated yet.
func AllowedBeforeAuth(t Type) bool {
	return t == Ping || t == Authenticate
}

// outbound lists the payloads the server emits. It is used by clients (and
// tests) to decode server frames.
var outbound = map[Type]func() Payload{
	Pong:            func() Payload { return &PongPayload{} },
	Authenticated:   func() Payload { return &AuthenticatedPayload{} },
	AuthError:       func() Payload { return NewAuthError("", "") },
	SessionCreated:  func() Payload { return &SessionCreatedPayload{} },
	SessionJoined:   func() Payload { return &SessionJoinedPayload{} },
	SessionLeft:     func() Payload { return &SessionLeftPayload{} },
	SessionEnded:    func() Payload { return &SessionEndedPayload{} },
	SessionError:    func() Payload { return NewSessionError("", "") },
	PlayerList:      func() Payload { return &PlayerListPayload{} },
	GameStart:       func() Payload { return &GameStartedPayload{} },
	ChatBroadcast:   func() Payload { return &ChatBroadcastPayload{} },
	WhisperReceived: func() Payload { return &WhisperReceivedPayload{} },
	SystemMessage:   func() Payload { return &SystemMessagePayload{} },
	TurnEnd:         func() Payload { return &TurnEndedPayload{} },
	ActionRequest:   func() Payload { return &ActionAnnouncedPayload{} },
	DiceRoll:        func() Payload { return &DiceRolledPayload{} },
	TokenMoved:      func() Payload { return &TokenMovedPayload{} },
	Error:           func() Payload { return &ErrorPayload{} },
}
