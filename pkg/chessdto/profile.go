package chessdto

type EngineInfo struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

type EnginesResponse struct {
	Engines          []EngineInfo `json:"engines"`
	Books            []string     `json:"books"`
	ThinkTimeDefault int          `json:"think_time_default"`
	ThinkTimeMax     int          `json:"think_time_max"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Engines  int    `json:"engines"`
}
