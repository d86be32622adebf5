// Package extraction turns raw notebook execution output into structured
// error details.
package extraction

import (
	"regexp"
	"strings"
)

const (
	// UnknownErrorType is used when no exception marker is found.
	UnknownErrorType = "UnknownError"

	// TimeoutErrorType is reported for wall-clock timeouts.
	TimeoutErrorType = "TimeoutError"

	// TimeoutMarker prefixes executor output produced by a timeout.
	TimeoutMarker = "EXECUTION_TIMEOUT"

	cellIntro      = "An error occurred while executing the following cell:"
	cellDelimiter  = "------------------"
	maxMessageSize = 2000
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

	// errorLine matches "<Identifier>Error: msg" or "<Identifier>Exception: msg",
	// optionally behind a dotted module path.
	errorLine = regexp.MustCompile(`^\s*(?:[A-Za-z_]\w*\.)*([A-Za-z_]\w*(?:Error|Exception)):\s?(.*)$`)

	// wrapperTypes are raised by the execution tool around the real error.
	wrapperTypes = map[string]bool{
		"CellExecutionError": true,
	}

	// timeoutTypes are the execution tool's own timeout exceptions.
	timeoutTypes = map[string]bool{
		"CellTimeoutError": true,
		"TimeoutError":     true,
	}
)

// ErrorDetails is the structured form of a failed execution.
type ErrorDetails struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	FailingCode  string `json:"failing_code"`
}

// Patchable reports whether a patch can target the failure. Without the
// failing cell's code there is nothing to match against.
func (d ErrorDetails) Patchable() bool {
	return strings.TrimSpace(d.FailingCode) != ""
}

// Signature is a short stable key for the failure, used for fix memory.
func (d ErrorDetails) Signature() string {
	return d.ErrorType + ": " + d.ErrorMessage
}

// Extract parses raw execution output. It never fails: fields that cannot
// be determined fall back to UnknownError, the last meaningful line and an
// empty failing code.
func Extract(raw string) ErrorDetails {
	text := ansiEscape.ReplaceAllString(raw, "")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	details := ErrorDetails{
		ErrorType:   UnknownErrorType,
		FailingCode: failingCode(lines),
	}

	if strings.Contains(text, TimeoutMarker) {
		details.ErrorType = TimeoutErrorType
		details.ErrorMessage = truncate(firstLineContaining(lines, TimeoutMarker))
		return details
	}

	for _, line := range lines {
		m := errorLine.FindStringSubmatch(line)
		if m == nil || wrapperTypes[m[1]] {
			continue
		}
		details.ErrorType = m[1]
		if timeoutTypes[m[1]] {
			details.ErrorType = TimeoutErrorType
		}
		details.ErrorMessage = truncate(strings.TrimSpace(m[2]))
		return details
	}

	details.ErrorMessage = truncate(lastMeaningfulLine(lines))
	return details
}

// failingCode returns the cell source the execution tool echoes between its
// delimiter lines, or "" when the block is absent.
func failingCode(lines []string) string {
	start := -1
	for i, line := range lines {
		if strings.Contains(line, cellIntro) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}

	open := -1
	for i := start; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != cellDelimiter {
			continue
		}
		if open < 0 {
			open = i
			continue
		}
		return strings.TrimRight(strings.Join(lines[open+1:i], "\n"), " \t\n")
	}
	return ""
}

func firstLineContaining(lines []string, marker string) string {
	for _, line := range lines {
		if strings.Contains(line, marker) {
			return strings.TrimSpace(line)
		}
	}
	return marker
}

// lastMeaningfulLine skips blank lines and traceback frames.
func lastMeaningfulLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "",
			strings.HasPrefix(line, "Traceback"),
			strings.HasPrefix(line, "File "),
			strings.HasPrefix(line, "Cell In"),
			strings.HasPrefix(line, "---"),
			strings.HasPrefix(line, "^"):
			continue
		}
		return line
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxMessageSize {
		return s
	}
	return s[:maxMessageSize] + "..."
}
