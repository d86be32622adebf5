package secrets

// DefaultRules returns the detection rules for credentials commonly pasted
// into notebooks.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret"},
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey|access[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords: []string{"key", "token"},
		},
		{
			ID:       "generic-secret",
			Pattern:  `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"secret", "passw", "pwd"},
		},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`},
		{ID: "github-token", Pattern: `gh[pousr]_[A-Za-z0-9]{36}`},
		{ID: "slack-token", Pattern: `xox[baprs]-[0-9A-Za-z-]{10,48}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9_-]{20,}`},
		{ID: "google-api-key", Pattern: `AIza[0-9A-Za-z\-_]{35}`},
		{
			// credentials embedded in connection strings
			ID:      "database-url",
			Pattern: `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|mssql|oracle|snowflake)://[^:\s/]+:[^@\s]+@`,
		},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`},
		{ID: "bearer-token", Pattern: `(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`},
	}
}
