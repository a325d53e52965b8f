package chessdto

// Stats is served by GET /stats.
type Stats struct {
	Waiting      int    `json:"waiting"`
	ActiveGames  int    `json:"activeGames"`
	GamesStarted uint64 `json:"gamesStarted"`
	Connections  int    `json:"connections"`
}
