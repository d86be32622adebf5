// Package secrets redacts credentials from text before it leaves the
// process, such as notebook code and tracebacks embedded in LLM prompts.
package secrets
