package domain

// PulseStatus represents the lifecycle state of a pulse
type PulseStatus string

const (
	PulseProposed  PulseStatus = "proposed"
	PulseRunning   PulseStatus = "running"
	PulseSucceeded PulseStatus = "succeeded"
	PulseFailed    PulseStatus = "failed"
	PulseStopped   PulseStatus = "stopped"
)

// Terminal returns true if no further transitions are possible
func (s PulseStatus) Terminal() bool {
	switch s {
	case PulseSucceeded, PulseFailed, PulseStopped:
		return true
	}
	return false
}

// CanTransition returns true if the transition s -> to is legal
func (s PulseStatus) CanTransition(to PulseStatus) bool {
	switch s {
	case PulseProposed:
		return to == PulseRunning
	case PulseRunning:
		return to == PulseSucceeded || to == PulseFailed || to == PulseStopped
	}
	return false
}

// CommandSource identifies which preflight phase a verification command came from
type CommandSource string

const (
	SourceBuild CommandSource = "build"
	SourceLint  CommandSource = "lint"
	SourceTest  CommandSource = "test"
)

// Severity classifies a parsed output line
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)
