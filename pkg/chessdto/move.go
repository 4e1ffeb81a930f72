package chessdto

// MoveRequest is decoded by hand at the boundary so that an absent key, an
// explicit null and a wrong type can be told apart.
type MoveRequest struct {
	Move *string `json:"move"`
}

// MoveResponse reports the engine reply. Move is null when the human move
// ended the game and the engine was not asked.
type MoveResponse struct {
	Move     *string `json:"move"`
	MoveUCI  string  `json:"move_uci,omitempty"`
	FEN      string  `json:"fen"`
	GameOver bool    `json:"game_over"`
	Outcome  string  `json:"outcome"`
	Method   string  `json:"method,omitempty"`
	Source   string  `json:"source,omitempty"`
	EvalCP   *int    `json:"eval_cp,omitempty"`
}
