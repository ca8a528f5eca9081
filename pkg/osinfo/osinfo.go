// Package osinfo collects a read-only diagnostic picture of a remote host:
// distro release, kernel, init system, package managers, identity and
// addressing. Probes that fail individually become notes on the report; the
// battery never aborts as a whole over one missing command.
package osinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/wentf9/xops-mcp/pkg/ssh"
)

// CommandRunner is the slice of the SSH client the battery needs.
type CommandRunner interface {
	Run(ctx context.Context, command string, opts ssh.RunOptions) (*ssh.Result, error)
}

// Distro describes the operating system release.
type Distro struct {
	Name            string   `json:"name,omitempty"`
	Version         string   `json:"version,omitempty"`
	ID              string   `json:"id,omitempty"`
	IDLike          string   `json:"id_like,omitempty"`
	PrettyName      string   `json:"pretty_name,omitempty"`
	PackageManagers []string `json:"package_managers,omitempty"`
}

// Platform describes kernel and init facts.
type Platform struct {
	Kernel string `json:"kernel,omitempty"`
	Arch   string `json:"arch,omitempty"`
	Init   string `json:"init,omitempty"`
}

// Network describes host naming and global IPv4 addressing.
type Network struct {
	Hostname string   `json:"hostname,omitempty"`
	FQDN     string   `json:"fqdn,omitempty"`
	IPv4     []string `json:"ipv4,omitempty"`
}

// RemoteUser describes the identity the battery ran as.
type RemoteUser struct {
	Login string `json:"login,omitempty"`
	Shell string `json:"shell,omitempty"`
}

// Report is the assembled diagnostic picture. Notes carries one entry per
// failed probe.
type Report struct {
	Distro   Distro     `json:"distro"`
	Platform Platform   `json:"platform"`
	Network  Network    `json:"network"`
	User     RemoteUser `json:"user"`
	Notes    []string   `json:"notes,omitempty"`
}

var packageManagers = []string{"apt", "dnf", "yum", "zypper", "pacman", "apk"}

// Collect runs the fixed probe battery over one established client.
func Collect(ctx context.Context, runner CommandRunner) *Report {
	r := &Report{}

	if out, err := runProbe(ctx, runner, "cat /etc/os-release"); err == nil {
		r.Distro = ParseOSRelease(out)
	} else if out, lsbErr := runProbe(ctx, runner, "lsb_release -a"); lsbErr == nil {
		r.Distro = ParseLSBRelease(out)
	} else {
		r.note("distro detection failed: %v", err)
	}

	if out, err := runProbe(ctx, runner, "uname -r"); err == nil {
		r.Platform.Kernel = out
	} else {
		r.note("kernel probe failed: %v", err)
	}
	if out, err := runProbe(ctx, runner, "uname -m"); err == nil {
		r.Platform.Arch = out
	} else {
		r.note("architecture probe failed: %v", err)
	}
	if out, err := runProbe(ctx, runner, "ps -p 1 -o comm="); err == nil {
		r.Platform.Init = out
	} else {
		r.note("init system probe failed: %v", err)
	}

	// An absent manager exits non-zero; that is an answer, not a failure.
	for _, mgr := range packageManagers {
		if _, err := runProbe(ctx, runner, "command -v "+mgr); err == nil {
			r.Distro.PackageManagers = append(r.Distro.PackageManagers, mgr)
		}
	}

	if out, err := runProbe(ctx, runner, "whoami"); err == nil {
		r.User.Login = out
	} else {
		r.note("whoami failed: %v", err)
	}
	if out, err := runProbe(ctx, runner, "echo $SHELL"); err == nil {
		r.User.Shell = out
	} else {
		r.note("shell probe failed: %v", err)
	}

	if out, err := runProbe(ctx, runner, "hostname"); err == nil {
		r.Network.Hostname = out
	} else {
		r.note("hostname probe failed: %v", err)
	}
	if out, err := runProbe(ctx, runner, "hostname -f"); err == nil {
		r.Network.FQDN = out
	} else {
		r.note("fqdn probe failed: %v", err)
	}
	if out, err := runProbe(ctx, runner, "ip -o -4 addr show up scope global"); err == nil {
		r.Network.IPv4 = ParseIPv4Addrs(out)
	} else {
		r.note("address probe failed: %v", err)
	}

	return r
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// runProbe treats any non-zero exit as a failed probe and reports the
// trimmed stderr as its reason.
func runProbe(ctx context.Context, runner CommandRunner, command string) (string, error) {
	res, err := runner.Run(ctx, command, ssh.RunOptions{})
	if err != nil {
		return "", err
	}
	if !res.Success() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return "", fmt.Errorf("%s", msg)
	}
	return strings.TrimSpace(res.Stdout), nil
}
