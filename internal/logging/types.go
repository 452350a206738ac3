package logging

import "time"

// #region checkpoint-entry
// CheckpointEntry is a single row in the checkpoint_log table.
type CheckpointEntry struct {
	CheckpointID string
	Base         string
	Phase        string // "prerun" | "main" | "resume"
	Iterations   int
	SamplesTotal int
	Efficiency   float64
	Mode         float64
	KernelType   string
	Note         string
	CreatedAt    time.Time
}

// #endregion checkpoint-entry
