package ssh

import (
	"regexp"
	"sort"
	"strings"
)

// safeArg matches strings that need no quoting in a POSIX shell.
var safeArg = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

// Quote returns a POSIX-shell-safe form of s: unchanged when harmless,
// single-quoted otherwise, with embedded single quotes escaped.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if safeArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// PrepareCommand wraps command for execution under a login shell. Optional
// environment exports and a working-directory change are applied inside that
// shell, so profile files, pipes and redirection all behave as they would in
// an interactive login session.
func PrepareCommand(command string, opts RunOptions) string {
	if opts.Dir != "" {
		command = "cd " + Quote(opts.Dir) + " && " + command
	}
	if len(opts.Env) > 0 {
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			b.WriteString("export " + k + "=" + Quote(opts.Env[k]) + "; ")
		}
		b.WriteString(command)
		command = b.String()
	}
	return "/bin/bash -lc " + Quote(command)
}
