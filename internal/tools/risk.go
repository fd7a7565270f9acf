package tools

import (
	"strings"

	"github.com/lacehq/lace/pkg/lace"
)

// ClassifyRisk is a pure, design-level classification consulted before
// approval arbitration. It is not a security boundary: a tool body must be
// safe regardless of the level this function returns.
func ClassifyRisk(toolName string, args map[string]any) lace.RiskLevel {
	name := strings.ToLower(toolName)
	switch {
	case isShellTool(name):
		if containsDestructiveTokens(stringArg(args, "command", "cmd", "script")) {
			return lace.RiskHigh
		}
		return lace.RiskMedium
	case isWriteTool(name):
		if matchesSensitivePath(stringArg(args, "path", "file", "target")) {
			return lace.RiskHigh
		}
		return lace.RiskMedium
	case isReadTool(name):
		return lace.RiskLow
	case isCodeEvalTool(name):
		if containsEvalConstructs(stringArg(args, "code", "source", "script")) {
			return lace.RiskHigh
		}
		return lace.RiskLow
	default:
		return lace.RiskLow
	}
}

func isShellTool(name string) bool {
	return containsAny(name, "shell", "bash", "exec", "command")
}

func isWriteTool(name string) bool {
	return containsAny(name, "write", "edit", "delete", "remove", "mkdir", "rename", "move")
}

func isReadTool(name string) bool {
	return containsAny(name, "read", "list", "search", "fetch", "get")
}

func isCodeEvalTool(name string) bool {
	return containsAny(name, "eval", "execute_code", "run_code", "interpreter")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

var destructiveShellTokens = []string{
	"rm -rf", "rm -fr", "mkfs", ":(){ :|:& };:", "> /dev/sd", "dd if=", "sudo ", "su -", "chmod -r 777", "curl | sh", "wget | sh", "| sh", "| bash",
}

func containsDestructiveTokens(command string) bool {
	lower := strings.ToLower(command)
	for _, token := range destructiveShellTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var sensitivePathPrefixes = []string{"/etc/", "/root/", "/sys/", "/boot/"}
var sensitivePathNames = []string{".env", "package.json", ".git/config", "id_rsa", ".ssh/"}

func matchesSensitivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range sensitivePathPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, name := range sensitivePathNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	base := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		base = lower[idx+1:]
	}
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

var evalConstructs = []string{"eval(", "exec(", "import(", "require(", "os.system", "subprocess", "__import__", "process.exit", "child_process"}

func containsEvalConstructs(source string) bool {
	lower := strings.ToLower(source)
	for _, token := range evalConstructs {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
