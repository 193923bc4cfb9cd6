package task

import "time"

// Mode selects which composition pipeline a task runs.
type Mode string

const (
	ModeConcat   Mode = "concat"    // two clips joined back to back
	ModePiP      Mode = "pip"       // picture-in-picture overlay
	ModePiPScore Mode = "pip_score" // picture-in-picture with a score burn-in
	ModeSingle   Mode = "single"    // single-clip normalization pass
	ModeImage    Mode = "image"     // still image synthesized into a clip
)

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Task struct {
	ID          string    `json:"id"`
	Mode        Mode      `json:"mode"`
	State       State     `json:"state"`
	Inputs      []string  `json:"-"` // staged file paths, not exposed
	OutputPath  string    `json:"outputPath,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// Options carries the mode-specific knobs a submission may set.
type Options struct {
	Score string // pip_score overlay text
}

// Job is the ephemeral unit a worker pulls from the queue. It is consumed
// exactly once; the durable record lives in the Store under TaskID.
type Job struct {
	TaskID  string
	Mode    Mode
	Inputs  []string
	Options Options
}
