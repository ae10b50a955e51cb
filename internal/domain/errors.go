package domain

import "fmt"

// CoreError is the unified error type for the recovery core.
// Each error has a numeric code and human-readable message.
type CoreError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("recovery core error %d: %s", e.Code, e.Message)
}

// NewCoreError creates a new CoreError.
func NewCoreError(code int, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// WrapCoreError creates a CoreError that includes a cause.
func WrapCoreError(code int, msg string, cause error) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Ingestion / pool errors (-32210 to -32229) ----

var (
	ErrPoolStopped    = &CoreError{Code: -32210, Message: "ingestion pool is stopped"}
	ErrDuplicateInFly = &CoreError{Code: -32211, Message: "event with same dedup key already processing"}
)

// ---- Analysis errors (-32250 to -32269) ----

var (
	ErrAnalysisFailed = &CoreError{Code: -32250, Message: "failure analysis failed"}
)

// ---- Planning errors (-32270 to -32289) ----

var (
	ErrPlanningFailed = &CoreError{Code: -32270, Message: "fix planning failed"}
	ErrNoCauses       = &CoreError{Code: -32271, Message: "planning requires at least one failure cause"}
)

// ---- Healing session errors (-32290 to -32309) ----

var (
	ErrSessionTerminal = &CoreError{Code: -32290, Message: "healing session is already terminal"}
	ErrSessionNotFound = &CoreError{Code: -32291, Message: "healing session not found"}
	ErrHealingInternal = &CoreError{Code: -32292, Message: "healing engine internal error"}
)

// ---- Store errors (-32310 to -32329) ----

var (
	ErrStoreInit  = &CoreError{Code: -32310, Message: "failed to initialize store"}
	ErrStoreQuery = &CoreError{Code: -32311, Message: "store query failed"}
	ErrStoreWrite = &CoreError{Code: -32312, Message: "store write failed"}
)

// ---- Config errors (-32330 to -32349) ----

var (
	ErrConfigInvalid = &CoreError{Code: -32330, Message: "invalid configuration"}
)
