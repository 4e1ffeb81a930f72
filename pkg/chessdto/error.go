package chessdto

// Error codes carried in ErrorBody.ErrorCode.
const (
	CodeInvalidMove        = "invalid_move"
	CodeIncompatibleClient = "incompatible_client"
	CodeEngineUnavailable  = "engine_unavailable"
	CodeSessionBusy        = "session_busy"
	CodeSessionNotFound    = "session_not_found"
	CodeGameOver           = "game_over"
	CodeUnknownEngine      = "unknown_engine"
	CodeUnknownBook        = "unknown_book"
	CodeInvalidThinkTime   = "invalid_think_time"
	CodeNotFound           = "not_found"
	CodeInternal           = "internal_error"
)

// ErrorBody is every non-2xx JSON body. FEN is the authoritative position
// whenever a game is involved; clients adopt it unconditionally.
type ErrorBody struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	FEN       string `json:"fen,omitempty"`
}

func (e ErrorBody) Error() string {
	if e.ErrorMsg != "" {
		return e.ErrorMsg
	}
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return "chess service error"
}
