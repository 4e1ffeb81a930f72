package chessdto

import "time"

type MaterialScore struct {
	White int `json:"white"`
	Black int `json:"black"`
}

// GameState is the read-only snapshot published after every change to a
// game. Status polls are served from it without touching the session.
type GameState struct {
	GameID      string        `json:"game_id"`
	FEN         string        `json:"fen"`
	MovesSAN    []string      `json:"moves_san"`
	MovesUCI    []string      `json:"moves_uci"`
	Orientation string        `json:"orientation"`
	Turn        string        `json:"turn"`
	Ply         int           `json:"ply"`
	GameOver    bool          `json:"game_over"`
	Outcome     string        `json:"outcome"`
	Method      string        `json:"method,omitempty"`
	Engine      string        `json:"engine"`
	EngineAlive bool          `json:"engine_alive"`
	Book        string        `json:"book,omitempty"`
	ECO         string        `json:"eco,omitempty"`
	Opening     string        `json:"opening,omitempty"`
	Material    MaterialScore `json:"material"`
	StartedAt   time.Time     `json:"started_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
