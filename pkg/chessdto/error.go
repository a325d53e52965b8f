package chessdto

// Rejection codes carried in the payload of an "error" message.
const (
	CodeMalformedMessage = "malformed_message"
	CodeUnknownType      = "unknown_type"
	CodeNotInGame        = "not_in_game"
	CodeNotMember        = "not_member"
	CodeGameOver         = "game_over"
	CodeOutOfTurn        = "out_of_turn"
	CodeIllegalMove      = "illegal_move"
	CodeInternal         = "internal"
)

// DomainError is the wire shape of a rejection sent to a single client.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "relay error"
}
