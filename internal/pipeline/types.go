package pipeline

// Status values used in Result and GateResult.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Stage names reported in Result.FailedStage.
const (
	StageWorkdir = "workdir"
	StageGate    = "gate"
	StageConnect = "connect"
	StageQuery   = "query"
)

// Result is the summary of one pipeline run.
type Result struct {
	Status      string        `json:"status"` // "ok" or "error"
	WorkingDir  string        `json:"working_dir"`
	ComposeDir  string        `json:"compose_dir,omitempty"`
	Launch      *LaunchResult `json:"launch,omitempty"`
	Gates       []GateResult  `json:"gates,omitempty"`
	Attempts    int           `json:"attempts"`
	Released    bool          `json:"released"`
	Rows        []string      `json:"rows"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// LaunchResult mirrors launcher.Outcome with the error flattened to text.
type LaunchResult struct {
	AttemptedPrimary  bool   `json:"attempted_primary"`
	AttemptedFallback bool   `json:"attempted_fallback"`
	Succeeded         bool   `json:"succeeded"`
	Error             string `json:"error,omitempty"`
}

// GateResult is the outcome of waiting on one extra dependency.
type GateResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}
