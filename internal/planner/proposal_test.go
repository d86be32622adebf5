package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readyResponse = "STATUS: READY\n" +
	"CONFIDENCE: 0.9\n" +
	"BEFORE_CODE:\n" +
	"```python\n" +
	"df = pd.read_csv('sales.csv')\n" +
	"```\n" +
	"AFTER_CODE:\n" +
	"```python\n" +
	"import pandas as pd\n" +
	"df = pd.read_csv('sales.csv')\n" +
	"```\n" +
	"REASONING: pandas is used without being imported.\n"

func TestParseResponse_Ready(t *testing.T) {
	p, err := ParseResponse(readyResponse)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, p.Status)
	assert.Equal(t, "df = pd.read_csv('sales.csv')", p.BeforeCode)
	assert.Equal(t, "import pandas as pd\ndf = pd.read_csv('sales.csv')", p.AfterCode)
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
	assert.Equal(t, "pandas is used without being imported.", p.Reasoning)
}

func TestParseResponse_NonReadyStatuses(t *testing.T) {
	for _, s := range []Status{StatusNeedsMoreInfo, StatusNoSolution, StatusDomainSpecific} {
		t.Run(string(s), func(t *testing.T) {
			p, err := ParseResponse("STATUS: " + string(s) + "\nREASONING: needs the cube API docs\nsecond line")
			require.NoError(t, err)
			assert.Equal(t, s, p.Status)
			assert.Empty(t, p.BeforeCode)
			assert.Empty(t, p.AfterCode)
			assert.Equal(t, "needs the cube API docs\nsecond line", p.Reasoning)
		})
	}
}

func TestParseResponse_CodeBlocksDroppedUnlessReady(t *testing.T) {
	resp := "STATUS: NEEDS_MORE_INFO\nBEFORE_CODE:\n```\na\n```\nAFTER_CODE:\n```\nb\n```\nREASONING: unsure\n"
	p, err := ParseResponse(resp)
	require.NoError(t, err)
	assert.Empty(t, p.BeforeCode)
	assert.False(t, p.Ready())
}

func TestParseResponse_StatusInsideCodeIgnored(t *testing.T) {
	resp := "STATUS: READY\nBEFORE_CODE:\n```\nprint('STATUS: NO_SOLUTION')\n```\nAFTER_CODE:\n```\nprint('ok')\n```\nREASONING: r"
	p, err := ParseResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "print('STATUS: NO_SOLUTION')", p.BeforeCode)
}

func TestParseResponse_Violations(t *testing.T) {
	tests := map[string]string{
		"empty":                   "",
		"missing status":          "REASONING: nothing",
		"duplicate status":        "STATUS: READY\nSTATUS: NO_SOLUTION\nREASONING: r",
		"unknown status":          "STATUS: MAYBE\nREASONING: r",
		"lowercase status":        "status: READY\nREASONING: r",
		"markdown decoration":     "**STATUS:** READY\nREASONING: r",
		"preamble chatter":        "Sure! Here is the fix.\nSTATUS: NO_SOLUTION\nREASONING: r",
		"missing reasoning":       "STATUS: NO_SOLUTION\n",
		"ready without blocks":    "STATUS: READY\nREASONING: r",
		"ready without after":     "STATUS: READY\nBEFORE_CODE:\n```\na\n```\nREASONING: r",
		"after before before":     "STATUS: READY\nAFTER_CODE:\n```\nb\n```\nBEFORE_CODE:\n```\na\n```\nREASONING: r",
		"duplicate before":        "STATUS: READY\nBEFORE_CODE:\n```\na\n```\nBEFORE_CODE:\n```\na\n```\nAFTER_CODE:\n```\nb\n```\nREASONING: r",
		"unfenced code":           "STATUS: READY\nBEFORE_CODE:\na = 1\nAFTER_CODE:\n```\nb\n```\nREASONING: r",
		"unclosed fence":          "STATUS: READY\nBEFORE_CODE:\n```\na\nAFTER_CODE:\n```\nb\nREASONING: r",
		"empty before block":      "STATUS: READY\nBEFORE_CODE:\n```\n\n```\nAFTER_CODE:\n```\nb\n```\nREASONING: r",
		"confidence out of range": "STATUS: READY\nCONFIDENCE: 1.5\nREASONING: r",
		"confidence not number":   "STATUS: READY\nCONFIDENCE: high\nREASONING: r",
		"block before status":     "BEFORE_CODE:\n```\na\n```\nSTATUS: READY\nREASONING: r",
	}
	for name, resp := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse(resp)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestParseResponse_CRLF(t *testing.T) {
	p, err := ParseResponse("STATUS: NO_SOLUTION\r\nREASONING: windows\r\n")
	require.NoError(t, err)
	assert.Equal(t, StatusNoSolution, p.Status)
	assert.Equal(t, "windows", p.Reasoning)
}
