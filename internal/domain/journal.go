package domain

// RunStatus is the persisted lifecycle status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StatusOf derives the terminal status of a finished run.
func StatusOf(r *RunReport) RunStatus {
	failed := r.Failed()
	if len(failed) == 0 {
		return RunSucceeded
	}
	for _, o := range failed {
		if o.Reason == ReasonCancelled {
			return RunCancelled
		}
	}
	return RunFailed
}

// RunRecord is the journal row for one run.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	Status         RunStatus `json:"status"`
	TaskCount      int       `json:"task_count"`
	TasksJSON      string    `json:"-"`
	WavesCompleted int       `json:"waves_completed"`
	StoppedEarly   bool      `json:"stopped_early"`
	StopReason     string    `json:"stop_reason,omitempty"`
	StartedAt      int64     `json:"started_at"`
	FinishedAt     int64     `json:"finished_at,omitempty"`
}

// RunEvent is one sequence-numbered entry in a run's event log.
type RunEvent struct {
	ID          int64  `json:"id"`
	RunID       string `json:"run_id"`
	SeqNo       int64  `json:"seq_no"`
	EventType   string `json:"event_type"`
	Wave        int    `json:"wave"`
	TaskID      string `json:"task_id,omitempty"`
	PayloadJSON string `json:"payload"`
	CreatedAt   int64  `json:"created_at"`
}

// Run event types.
const (
	EventRunStarted   = "run_started"
	EventWaveStarted  = "wave_started"
	EventWaveFinished = "wave_finished"
	EventTaskFinished = "task_finished"
	EventRunFinished  = "run_finished"
)

// WaveSnapshotRecord links a wave to its pre-wave checkpoint.
type WaveSnapshotRecord struct {
	RunID      string   `json:"run_id"`
	Wave       int      `json:"wave"`
	SnapshotID string   `json:"snapshot_id"`
	TaskIDs    []string `json:"task_ids"`
	// Result is pending until the wave resolves, then committed or rolled_back.
	Result    string `json:"result"`
	CreatedAt int64  `json:"created_at"`
}

// AuditRecord logs operator actions against the workspace and runs.
type AuditRecord struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id,omitempty"`
	Category   string `json:"category"`
	Actor      string `json:"actor"`
	Action     string `json:"action"`
	DetailJSON string `json:"detail"`
	Severity   string `json:"severity"`
	CreatedAt  int64  `json:"created_at"`
}
