// Package security holds the small set of helpers whose correctness is
// security load-bearing: shell quoting for commands assembled as strings,
// and control-socket path hashing.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var shellSafePattern = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote quotes s for safe interpolation into a POSIX shell command
// string. Transports build argv as []string wherever possible; this exists
// for the handful of places (tmux's positional command argument, the SSH
// ControlMaster remote command) that require a single shell string.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafePattern.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteArgv joins argv into a shell command string with each argument
// individually quoted.
func QuoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// ControlSocketHash derives a short, stable, filesystem-safe identifier for
// an SSH ControlMaster socket path from the connection's identity, so the
// path never exceeds the ~108 character Unix socket limit regardless of
// hostname length.
func ControlSocketHash(user, host string, port int) string {
	key := strings.Join([]string{user, host, strconv.Itoa(port)}, "@")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}
