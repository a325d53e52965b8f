package chessdto

// InitGame is sent to both members when a game starts.
type InitGame struct {
	Color  string `json:"color"`
	GameID string `json:"gameId"`
	FEN    string `json:"fen"`
}

// Waiting acknowledges that a game request was queued.
type Waiting struct {
	Position int `json:"position"`
}

// GameOver ends a game. Reason is one of the session.Reason* codes and Result is
// the PGN result token.
type GameOver struct {
	GameID  string `json:"gameId"`
	Reason  string `json:"reason"`
	Result  string `json:"result"`
	Winner  string `json:"winner,omitempty"`
	PGN     string `json:"pgn,omitempty"`
	Message string `json:"message,omitempty"`
}
