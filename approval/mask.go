package approval

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

const masked = "[MASKED]"

type secretPattern struct {
	re   *regexp.Regexp
	repl string
}

var secretPatterns = []secretPattern{
	// api keys
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`), "${1}=" + masked},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), masked},
	// auth tokens
	{regexp.MustCompile(`(?i)(token|auth|bearer)\s*[:=]\s*["']?([a-zA-Z0-9_\-.]{20,})["']?`), "${1}=" + masked},
	// aws
	{regexp.MustCompile(`(?i)(aws[_-]?access[_-]?key[_-]?id)\s*[:=]\s*["']?([A-Z0-9]{20})["']?`), "${1}=" + masked},
	{regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`), "${1}=" + masked},
	// passwords
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?([^\s"']{6,})["']?`), "${1}=" + masked},
	// PEM private keys
	{regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----[\s\S]+?-----END (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`), masked},
	// database urls with credentials; the user name is kept
	{regexp.MustCompile(`(jdbc:|postgresql:|postgres:|mysql:|mongodb\+srv:|mongodb:)//([^:/@\s]+):([^@\s]+)@`), "${1}//${2}:" + masked + "@"},
	// environment style secrets
	{regexp.MustCompile(`([A-Z_]+SECRET[A-Z_]*)\s*[:=]\s*["']?([^\s"']{8,})["']?`), "${1}=" + masked},
	{regexp.MustCompile(`([A-Z_]+KEY[A-Z_]*)\s*[:=]\s*["']?([^\s"']{8,})["']?`), "${1}=" + masked},
	// github tokens
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`), masked},
	{regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{82}`), masked},
	// ssh public keys
	{regexp.MustCompile(`ssh-rsa\s+[A-Za-z0-9+/]+={0,2}`), masked},
	{regexp.MustCompile(`ssh-ed25519\s+[A-Za-z0-9+/]+={0,2}`), masked},
}

var sensitiveFlag = regexp.MustCompile(`(?i)^--(token|password|secret|key|auth|credential).*$`)

var sensitiveFileNames = []string{
	".env",
	"credentials.json",
	"secrets.yaml",
	"id_rsa",
	"id_ed25519",
	".npmrc",
	".pypirc",
	"config.yml",
}

// Mask replaces secrets in text with [MASKED].
func Mask(text string) string {
	for _, p := range secretPatterns {
		text = p.re.ReplaceAllString(text, p.repl)
	}
	return text
}

// MaskCommand masks each argument, and masks outright any value that
// follows a flag such as --token or --password.
func MaskCommand(command []string) []string {
	return lo.Map(command, func(arg string, i int) string {
		if i > 0 && sensitiveFlag.MatchString(command[i-1]) {
			return masked
		}
		return Mask(arg)
	})
}

// MaskPath hides the file name of paths that usually hold credentials.
func MaskPath(path string) string {
	dir, name := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, name = path[:i+1], path[i+1:]
	}
	lower := strings.ToLower(name)
	if lo.SomeBy(sensitiveFileNames, func(s string) bool { return strings.Contains(lower, s) }) {
		return dir + "<sensitive-file>"
	}
	return path
}
