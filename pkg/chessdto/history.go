package chessdto

import "time"

type ArchivedGame struct {
	ID          int64     `json:"id"`
	GameID      string    `json:"game_id"`
	Engine      string    `json:"engine"`
	Orientation string    `json:"orientation"`
	Result      string    `json:"result"`
	Method      string    `json:"method"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	PGN         string    `json:"pgn,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationMS  int64     `json:"duration_ms"`
}

type ArchiveListResponse struct {
	Games []ArchivedGame `json:"games"`
}
