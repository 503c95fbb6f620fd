// Package guard classifies shell commands before they reach a sandbox.
// It is a deny-list, not an allow-list: developer tooling (git, package
// managers, curl, process inspection) runs freely while a short list of
// destructive or privilege-escalating primitives is blocked.
package guard

import "strings"

// blockedTerms are matched against each sub-command of a compound invocation.
// Multi-word entries must appear as a contiguous token sequence; single-word
// entries match the command name only, so "apt" blocks "apt install" but not
// "cat apt.txt".
var blockedTerms = []string{
	// Recursive / forced deletion.
	"rm -rf",
	"rm -fr",
	"rm -r",
	// Privilege escalation.
	"sudo",
	"su",
	"doas",
	// System package managers (the sandbox provisions its own tooling).
	"apt",
	"apt-get",
	"yum",
	"dnf",
	"pacman",
	"apk",
	// Raw disk and filesystem operations.
	"dd",
	"mkfs",
	"fdisk",
	"parted",
	// Host lifecycle.
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
}

// controlOperators split a compound command into semantically distinct
// sub-commands. Each piece is classified on its own, so "echo a && sudo rm b"
// cannot hide behind the harmless prefix.
var controlOperators = []string{"&&", "||", ";", "|", "\n"}

// Classification is the result of inspecting one command string.
type Classification struct {
	Blocked bool
	Term    string // The offending term when Blocked.
}

// Guard decides whether a command may reach a sandbox.
type Guard struct {
	terms []string
}

// New builds a guard from the built-in deny list plus any deployment-time
// additions.
func New(additional ...string) *Guard {
	terms := make([]string, 0, len(blockedTerms)+len(additional))
	terms = append(terms, blockedTerms...)
	for _, t := range additional {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return &Guard{terms: terms}
}

// Classify inspects a command string and reports whether any sub-command
// matches the deny list. A blocked command must never be executed; callers
// return a synthetic failure result instead.
func (g *Guard) Classify(command string) Classification {
	for _, sub := range splitCompound(command) {
		if term := g.matchSub(sub); term != "" {
			return Classification{Blocked: true, Term: term}
		}
	}
	return Classification{}
}

// matchSub checks one sub-command against the deny list.
func (g *Guard) matchSub(sub string) string {
	fields := strings.Fields(strings.ToLower(sub))
	if len(fields) == 0 {
		return ""
	}

	for _, term := range g.terms {
		termFields := strings.Fields(term)
		if len(termFields) == 1 {
			// Single-word terms match the command name, including
			// env-var prefixes like "FOO=1 sudo x".
			if commandName(fields) == termFields[0] {
				return term
			}
			continue
		}
		if containsSequence(fields, termFields) {
			return term
		}
	}
	return ""
}

// splitCompound breaks a command on shell control operators.
func splitCompound(command string) []string {
	parts := []string{command}
	for _, op := range controlOperators {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, op)...)
		}
		parts = next
	}

	var subs []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			subs = append(subs, p)
		}
	}
	return subs
}

// commandName returns the first field that is not a VAR=value assignment.
func commandName(fields []string) string {
	for _, f := range fields {
		if !strings.Contains(f, "=") {
			return f
		}
	}
	return ""
}

// containsSequence reports whether needle appears as a contiguous
// subsequence of haystack.
func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
