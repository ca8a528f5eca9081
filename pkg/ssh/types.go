package ssh

import (
	"net"
	"strconv"
	"time"
)

// Target describes one SSH endpoint together with its credentials.
type Target struct {
	Name       string // registry VM name, used in errors and logs
	Host       string
	Port       int
	User       string
	Key        string // inline private key material
	KeyPath    string // or a path to a private key file
	Passphrase string // for encrypted keys
	Password   string // optional fallback auth
}

// Addr returns the dialable host:port address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// RunOptions carries per-call execution modifiers. Both are applied inside
// the login shell that wraps the command.
type RunOptions struct {
	Env map[string]string // exported before the command runs
	Dir string            // working directory change before the command runs
}

// Result is the outcome of one executed remote command. A non-zero ExitCode
// means the command ran and failed; transport problems never produce a
// Result.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}
