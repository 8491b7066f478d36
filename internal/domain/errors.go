package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError carrying the same code, so errors.Is works on
// variants built with NewEngineError.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Scheduler / task graph errors (-32010 to -32039) ----

var (
	ErrCyclicDependency  = &EngineError{Code: -32010, Message: "cyclic task dependency"}
	ErrUnknownDependency = &EngineError{Code: -32011, Message: "task depends on unknown task"}
	ErrDuplicateTask     = &EngineError{Code: -32012, Message: "task already exists"}
	ErrInvalidTransition = &EngineError{Code: -32013, Message: "invalid task state transition"}
	ErrRunInProgress     = &EngineError{Code: -32014, Message: "a run already owns the workspace"}
	ErrRunNotFound       = &EngineError{Code: -32015, Message: "run not found"}
	ErrInvalidTask       = &EngineError{Code: -32016, Message: "invalid task"}
)

// ---- Consensus / worker errors (-32040 to -32069) ----

var (
	ErrConsensusConfigInvalid = &EngineError{Code: -32040, Message: "invalid consensus configuration"}
	ErrWorkerTimeout          = &EngineError{Code: -32041, Message: "worker exceeded timeout"}
	ErrWorkerFailed           = &EngineError{Code: -32042, Message: "worker call failed"}
	ErrWorkerPanic            = &EngineError{Code: -32043, Message: "worker panicked"}
)

// ---- Snapshot errors (-32070 to -32099) ----

var (
	ErrUnknownSnapshot  = &EngineError{Code: -32070, Message: "unknown snapshot"}
	ErrNoSnapshots      = &EngineError{Code: -32071, Message: "snapshot history is empty"}
	ErrSnapshotRange    = &EngineError{Code: -32072, Message: "invalid snapshot range"}
	ErrSnapshotFailed   = &EngineError{Code: -32073, Message: "snapshot operation failed"}
	ErrWorkspaceInvalid = &EngineError{Code: -32074, Message: "invalid workspace"}
)

// ---- Validation errors (-32100 to -32129) ----

var (
	ErrValidatorFailed = &EngineError{Code: -32100, Message: "validator failed"}
)

// ---- Provider errors (-32130 to -32159) ----

var (
	ErrProviderUnavailable = &EngineError{Code: -32130, Message: "worker provider unavailable"}
	ErrProviderFailed      = &EngineError{Code: -32131, Message: "worker provider returned an error"}
)

// ---- Store / config errors (-32160 to -32189) ----

var (
	ErrStoreInit      = &EngineError{Code: -32160, Message: "failed to initialize store"}
	ErrStoreQuery     = &EngineError{Code: -32161, Message: "store query failed"}
	ErrStoreWrite     = &EngineError{Code: -32162, Message: "store write failed"}
	ErrConfigInvalid  = &EngineError{Code: -32163, Message: "invalid configuration"}
	ErrDuplicateEvent = &EngineError{Code: -32164, Message: "duplicate event sequence number"}
)
