package transfer

import "fmt"

// rsync exit codes with a fixed meaning.
const (
	ExitOK          = 0
	ExitAuth        = 5
	ExitProtocol    = 12
	ExitPartial     = 23
	ExitVanished    = 24
	ExitIdleTimeout = 30
	ExitConnLost    = 255
)

var exitHints = map[int]string{
	ExitAuth:        "authentication failed; check the ssh user, key or password",
	ExitProtocol:    "protocol error; the local and remote rsync versions may be incompatible",
	ExitPartial:     "partial transfer; some files could not be transferred (permissions or missing paths)",
	ExitVanished:    "some source files vanished while the transfer was running",
	ExitIdleTimeout: "idle timeout; the connection stalled longer than the configured timeout",
	ExitConnLost:    "connection lost; the remote host closed the ssh connection",
}

// Hint maps an rsync exit code to a human readable hint.
func Hint(code int) string {
	if code == ExitOK {
		return ""
	}
	if h, ok := exitHints[code]; ok {
		return h
	}
	return fmt.Sprintf("rsync failed with exit code %d", code)
}

// Classified reports whether code has a known meaning.
func Classified(code int) bool {
	_, ok := exitHints[code]
	return ok || code == ExitOK
}
