package chessdto

// StartGameRequest mirrors the new-game form. Both JSON and form encodings
// are accepted at the boundary.
type StartGameRequest struct {
	Color       string `json:"color"`
	Engine      string `json:"engine"`
	OpeningBook string `json:"opening_book"`
	ThinkTime   *int   `json:"think_time"`
	PieceTheme  string `json:"piece_theme"`
}

type StartGameResponse struct {
	GameID      string `json:"game_id"`
	Orientation string `json:"orientation"`
	FEN         string `json:"fen"`
	Engine      string `json:"engine"`
	EngineID    string `json:"engine_id"`
	Book        string `json:"book"`
	ThinkTime   int    `json:"think_time"`
	PieceTheme  string `json:"piece_theme"`
}
