package types

// ClientMessage is one command from a connected participant.
//
// Type is one of:
//
//	create  - Name
//	join    - RoomCode, Name
//	siding  - (host only) start or reshuffle a round
//	role    - Role, "DEFENSE" or "PROSECUTION"
//	trial   - (host only) move the round to trial
//	witness - (host or judge) advance the witness stand
type ClientMessage struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
	Role     string `json:"role,omitempty"`
}

// ServerError goes only to the caller whose command failed. Accepted
// commands are answered with a room-wide view broadcast instead, so there is
// no success envelope.
type ServerError struct {
	Type    string `json:"type"` // always "ERROR"
	Message string `json:"message"`
}

func NewServerError(message string) ServerError {
	return ServerError{Type: "ERROR", Message: message}
}
