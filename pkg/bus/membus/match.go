package membus

import "strings"

// subjectMatches reports whether subject matches pattern using NATS
// wildcard rules: "*" matches exactly one dot-separated token, ">"
// matches one or more trailing tokens and must terminate the pattern.
func subjectMatches(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, pt := range pTokens {
		if pt == ">" {
			return i < len(sTokens)
		}
		if i >= len(sTokens) {
			return false
		}
		if pt == "*" {
			continue
		}
		if pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}
