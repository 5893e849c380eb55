// Package rta screens commands and tool invocations before the runtime
// executes them autonomously.
package rta

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict is one safety decision.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict             { return Verdict{Allowed: true} }
func deny(reason string) Verdict { return Verdict{Allowed: false, Reason: reason} }

var (
	controlChars = regexp.MustCompile(`[\r\n\x00]`)
	toolName     = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// denyRule pairs a pattern with its refusal reason.
type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

var denyRules = []denyRule{
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\b.*\s+/(\s|$)`), "recursive delete of filesystem root"},
	{regexp.MustCompile(`\brm\s+-rf\s+~`), "recursive delete of home directory"},
	{regexp.MustCompile(`\bsudo\b`), "privilege escalation"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "host power control"},
	{regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`\bdd\b.*\bof=/dev/`), "raw device write"},
	{regexp.MustCompile(`>\s*/dev/(sd|nvme|hd)`), "raw device write"},
	{regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`), "world-writable filesystem root"},
	{regexp.MustCompile(`(curl|wget)\b[^|;]*\|\s*(ba)?sh\b`), "piping a download into a shell"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`), "fork bomb"},
	{regexp.MustCompile(`\bkill\s+-9\s+1\b`), "killing init"},
}

// CheckCommand screens a full shell command line.
func CheckCommand(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return deny("empty command")
	}
	if strings.Contains(trimmed, "\x00") {
		return deny("command contains null byte")
	}
	for _, rule := range denyRules {
		if rule.pattern.MatchString(trimmed) {
			return deny(rule.reason)
		}
	}
	return allow()
}

// CheckTool screens a tool invocation: the name must be a bare identifier
// and the arguments must be clean of control bytes.
func CheckTool(name string, args json.RawMessage) Verdict {
	if name == "" {
		return deny("empty tool name")
	}
	if !toolName.MatchString(name) {
		return deny("tool name contains invalid characters")
	}
	if controlChars.Match(args) {
		// JSON encodes newlines as escapes; raw control bytes mean the
		// payload never came from a JSON encoder.
		return deny("tool arguments contain control bytes")
	}
	return allow()
}
