package chessdto

// MoveRequest is the client payload of a "move" message. chess.js move objects
// carry extra fields (san, flags, piece...); those are ignored.
type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// MoveBroadcast is the authoritative echo of an accepted move, sent to both players.
type MoveBroadcast struct {
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	UCI       string `json:"uci"`
	Color     string `json:"color"`
	Ply       int    `json:"ply"`
	FEN       string `json:"fen"`
	Check     bool   `json:"check,omitempty"`
	Opening   string `json:"opening,omitempty"`
}

// LegalMovesRequest asks for the destinations of the piece on Square.
type LegalMovesRequest struct {
	Square string `json:"square"`
}

// LegalMoves answers a LegalMovesRequest. Targets is empty when the square holds
// no movable piece of the side to move.
type LegalMoves struct {
	Square  string   `json:"square"`
	Targets []string `json:"targets"`
}
