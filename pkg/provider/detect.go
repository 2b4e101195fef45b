package provider

import "strings"

// DetectAppKind classifies an inbound request by its User-Agent: anything
// mentioning claude is Claude Code, everything else is Codex.
func DetectAppKind(userAgent string) AppKind {
	if strings.Contains(strings.ToLower(userAgent), "claude") {
		return AppClaude
	}
	return AppCodex
}
