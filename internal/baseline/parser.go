package baseline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// Line shapes recognized in build/lint/test output, tried in order. A line
// matching none of them contributes no error record.
var (
	// src/a.ts(10,5): error TS2304: Cannot find name 'foo'
	parenShape = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\):\s+(error|warning)\s+([A-Za-z]+\d+):\s+(.+)$`)

	// src/a.ts:10:5 - error TS2304: Cannot find name 'foo'
	colonShape = regexp.MustCompile(`^(.+?):(\d+):(\d+)\s*-\s*(error|warning)\s+(?:([A-Za-z]+\d+):\s+)?(.+)$`)

	// error: something went wrong
	bareShape = regexp.MustCompile(`^(?i)(error|warning):\s*(.+)$`)

	// npm ERR! code ELIFECYCLE
	npmShape = regexp.MustCompile(`^npm\s+(ERR!|WARN)\s+(.+)$`)

	genericError = regexp.MustCompile(`Error:|Exception:`)
)

// ParseOutput extracts errors and warnings from raw command output
func ParseOutput(raw string) []*domain.ParsedError {
	var errs []*domain.ParsedError
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if e := parseLine(line); e != nil {
			errs = append(errs, e)
		}
	}
	return errs
}

func parseLine(line string) *domain.ParsedError {
	if m := parenShape.FindStringSubmatch(line); m != nil {
		lineNum, _ := strconv.Atoi(m[2])
		return &domain.ParsedError{
			FilePath: m[1],
			Line:     lineNum,
			Severity: domain.Severity(strings.ToLower(m[4])),
			Code:     m[5],
			Message:  m[6],
		}
	}

	if m := colonShape.FindStringSubmatch(line); m != nil {
		lineNum, _ := strconv.Atoi(m[2])
		return &domain.ParsedError{
			FilePath: m[1],
			Line:     lineNum,
			Severity: domain.Severity(strings.ToLower(m[4])),
			Code:     m[5],
			Message:  m[6],
		}
	}

	if m := bareShape.FindStringSubmatch(line); m != nil {
		return &domain.ParsedError{
			Severity: domain.Severity(strings.ToLower(m[1])),
			Message:  m[2],
		}
	}

	if m := npmShape.FindStringSubmatch(line); m != nil {
		sev := domain.SeverityError
		if m[1] == "WARN" {
			sev = domain.SeverityWarning
		}
		return &domain.ParsedError{
			Severity: sev,
			Message:  m[2],
		}
	}

	if genericError.MatchString(line) {
		return &domain.ParsedError{
			Severity: domain.SeverityError,
			Message:  strings.TrimSpace(line),
		}
	}

	return nil
}
