package planner

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Status is the planner's verdict on an error.
type Status string

// Statuses returned by the reasoning service.
const (
	StatusReady          Status = "READY"
	StatusNeedsMoreInfo  Status = "NEEDS_MORE_INFO"
	StatusNoSolution     Status = "NO_SOLUTION"
	StatusDomainSpecific Status = "DOMAIN_SPECIFIC"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusNeedsMoreInfo, StatusNoSolution, StatusDomainSpecific:
		return true
	}
	return false
}

// Proposal is a planned patch. BeforeCode and AfterCode are only set when
// Status is READY.
type Proposal struct {
	Status     Status  `json:"status"`
	BeforeCode string  `json:"before_code,omitempty"`
	AfterCode  string  `json:"after_code,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Ready reports whether the proposal may be applied.
func (p Proposal) Ready() bool {
	return p.Status == StatusReady
}

// noSolution builds the fail-closed proposal.
func noSolution(reason string) Proposal {
	return Proposal{Status: StatusNoSolution, Reasoning: reason}
}

// ErrMalformedResponse wraps every response grammar violation.
var ErrMalformedResponse = errors.New("malformed planner response")

var (
	statusLine     = regexp.MustCompile(`^STATUS:\s*(\S+)\s*$`)
	confidenceLine = regexp.MustCompile(`^CONFIDENCE:\s*(\S+)\s*$`)
	reasoningLine  = regexp.MustCompile(`^REASONING:[ \t]*(.*)$`)
	fenceOpen      = regexp.MustCompile("^```[A-Za-z0-9_+-]*\\s*$")
)

const (
	beforeLabel = "BEFORE_CODE:"
	afterLabel  = "AFTER_CODE:"
	fenceClose  = "```"
)

// ParseResponse parses a reasoning-service response. The grammar, one
// element per line, in order:
//
//	STATUS: <READY|NEEDS_MORE_INFO|NO_SOLUTION|DOMAIN_SPECIFIC>
//	CONFIDENCE: <0..1>            (optional)
//	BEFORE_CODE:                  (required for READY, then a fenced block)
//	AFTER_CODE:                   (required for READY, then a fenced block)
//	REASONING: <text to end of response>
//
// Blank lines are allowed between elements. Anything else is an error.
func ParseResponse(resp string) (Proposal, error) {
	lines := strings.Split(strings.ReplaceAll(resp, "\r\n", "\n"), "\n")
	var (
		p                    Proposal
		seenStatus, seenConf bool
		before, after        *string
		seenReasoning        bool
	)

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch {
		case statusLine.MatchString(trimmed):
			if seenStatus {
				return Proposal{}, fmt.Errorf("%w: STATUS appears more than once", ErrMalformedResponse)
			}
			seenStatus = true
			p.Status = Status(statusLine.FindStringSubmatch(trimmed)[1])
			if !p.Status.Valid() {
				return Proposal{}, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, p.Status)
			}

		case confidenceLine.MatchString(trimmed):
			if !seenStatus || seenConf || before != nil {
				return Proposal{}, fmt.Errorf("%w: CONFIDENCE out of place on line %d", ErrMalformedResponse, i+1)
			}
			seenConf = true
			v, err := strconv.ParseFloat(confidenceLine.FindStringSubmatch(trimmed)[1], 64)
			if err != nil || v < 0 || v > 1 {
				return Proposal{}, fmt.Errorf("%w: confidence must be a number in [0,1]", ErrMalformedResponse)
			}
			p.Confidence = v

		case trimmed == beforeLabel || trimmed == afterLabel:
			if !seenStatus {
				return Proposal{}, fmt.Errorf("%w: %s before STATUS", ErrMalformedResponse, trimmed)
			}
			isBefore := trimmed == beforeLabel
			if isBefore && (before != nil || after != nil) {
				return Proposal{}, fmt.Errorf("%w: unexpected %s", ErrMalformedResponse, trimmed)
			}
			if !isBefore && (before == nil || after != nil) {
				return Proposal{}, fmt.Errorf("%w: unexpected %s", ErrMalformedResponse, trimmed)
			}
			code, next, err := readFence(lines, i+1)
			if err != nil {
				return Proposal{}, fmt.Errorf("%w: %s %v", ErrMalformedResponse, trimmed, err)
			}
			if isBefore {
				before = &code
			} else {
				after = &code
			}
			i = next

		case reasoningLine.MatchString(trimmed):
			if !seenStatus {
				return Proposal{}, fmt.Errorf("%w: REASONING before STATUS", ErrMalformedResponse)
			}
			rest := append([]string{reasoningLine.FindStringSubmatch(trimmed)[1]}, lines[i+1:]...)
			p.Reasoning = strings.TrimSpace(strings.Join(rest, "\n"))
			seenReasoning = true
			i = len(lines)

		default:
			return Proposal{}, fmt.Errorf("%w: unexpected content on line %d: %q", ErrMalformedResponse, i+1, truncate(trimmed, 60))
		}
	}

	if !seenStatus {
		return Proposal{}, fmt.Errorf("%w: missing STATUS", ErrMalformedResponse)
	}
	if !seenReasoning {
		return Proposal{}, fmt.Errorf("%w: missing REASONING", ErrMalformedResponse)
	}
	if before != nil && after == nil {
		return Proposal{}, fmt.Errorf("%w: BEFORE_CODE without AFTER_CODE", ErrMalformedResponse)
	}

	if p.Status != StatusReady {
		return p, nil
	}
	if before == nil {
		return Proposal{}, fmt.Errorf("%w: READY requires BEFORE_CODE and AFTER_CODE", ErrMalformedResponse)
	}
	if strings.TrimSpace(*before) == "" || strings.TrimSpace(*after) == "" {
		return Proposal{}, fmt.Errorf("%w: READY code blocks must not be empty", ErrMalformedResponse)
	}
	p.BeforeCode = *before
	p.AfterCode = *after
	return p, nil
}

// readFence reads the fenced block starting at or after line start (blank
// lines skipped) and returns its body and the index of the closing fence.
func readFence(lines []string, start int) (string, int, error) {
	i := start
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || !fenceOpen.MatchString(strings.TrimSpace(lines[i])) {
		return "", 0, errors.New("must be followed by a fenced code block")
	}
	var body []string
	for j := i + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == fenceClose {
			return strings.Join(body, "\n"), j, nil
		}
		body = append(body, lines[j])
	}
	return "", 0, errors.New("code block is not closed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
