package domain

// CommandOutput captures one run of a verification command. It is used both
// as the recorded baseline and as the current run being verified.
type CommandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Combined returns stdout and stderr joined for keyword scanning
func (o CommandOutput) Combined() string {
	return o.Stdout + "\n" + o.Stderr
}

// ComparisonResult is the outcome of comparing a current run against a baseline
type ComparisonResult struct {
	AreEquivalent         bool     `json:"areEquivalent"`
	IsStrictlyImprovement bool     `json:"isStrictlyImprovement"`
	NewIssues             []string `json:"newIssues"`
}

// ParsedError is one error or warning extracted from raw command output
type ParsedError struct {
	Message  string
	FilePath string
	Line     int
	Code     string
	Severity Severity
}

// Identity returns the "code: message" form used for baseline matching
func (e *ParsedError) Identity() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ToolFailure describes one failing tool invocation found during completion
// validation.
type ToolFailure struct {
	Tool   string
	Target string
	Reason string
}

// ValidationResult is the completion validator's judgment
type ValidationResult struct {
	Valid                bool
	RejectionReason      string
	EscapeHatchAvailable bool
	Failures             []ToolFailure
}
