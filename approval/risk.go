package approval

import (
	"strings"

	"github.com/samber/lo"
)

// AssessCommandRisk returns a short warning for commands that can destroy
// data or escalate privileges, or "" when nothing stands out.
func AssessCommandRisk(command []string) string {
	if len(command) == 0 {
		return ""
	}
	cmd := strings.ToLower(command[0])
	anyArg := func(pred func(string) bool) bool { return lo.SomeBy(command, pred) }
	contains := func(sub string) func(string) bool {
		return func(arg string) bool { return strings.Contains(arg, sub) }
	}

	switch {
	case lo.Contains([]string{"rm", "rmdir", "del"}, cmd) && (anyArg(contains("-r")) || anyArg(contains("-f"))):
		return "Destructive file deletion"
	case lo.Contains([]string{"chmod", "chown"}, cmd) && anyArg(contains("-R")):
		return "Recursive permission change"
	case cmd == "curl" && (anyArg(contains("sudo")) || anyArg(contains("bash"))):
		return "Remote script execution"
	case lo.Contains([]string{"dd", "mkfs", "fdisk"}, cmd):
		return "Disk operation - potential data loss"
	case lo.Contains([]string{"kill", "killall"}, cmd) && lo.Contains(command, "-9"):
		return "Force kill processes"
	case cmd == "docker" && lo.Some(command, []string{"rmi", "system", "prune"}):
		return "Docker cleanup operation"
	case anyArg(contains("sudo")):
		return "Requires elevated privileges"
	}
	return ""
}

var sensitivePathParts = []string{".env", "credentials", "secrets", "id_rsa", ".ssh"}

// TouchesSensitiveFiles reports whether a patch modifies files that
// commonly hold configuration secrets.
func TouchesSensitiveFiles(files []string) bool {
	return lo.SomeBy(files, func(path string) bool {
		return lo.SomeBy(sensitivePathParts, func(part string) bool { return strings.Contains(path, part) })
	})
}
