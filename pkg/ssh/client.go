// Package ssh runs remote operations over fresh SSH sessions. Every tool
// call dials its own transport and closes it on return; there is no pooling
// and no shared session state between calls.
package ssh

import (
	"bytes"
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/wentf9/xops-mcp/internal/errors"
)

// killGraceTimeout bounds how long a cancelled call waits for the remote
// side to acknowledge the kill before abandoning the session.
const killGraceTimeout = 2 * time.Second

// Client wraps one established SSH transport to a target.
type Client struct {
	sshClient *ssh.Client
	target    Target
}

// Dial opens a transport to the target and authenticates. Dial failures are
// connectivity errors; handshake and credential failures are session errors.
// The caller owns the client and must Close it.
func Dial(ctx context.Context, target Target) (*Client, error) {
	cfg, err := clientConfig(target)
	if err != nil {
		return nil, errors.WrapSessionError("build ssh config", target.Name, err)
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, errors.WrapConnectivityError("dial", target.Name, err)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, errors.WrapSessionError("ssh handshake", target.Name, err)
	}
	return &Client{sshClient: ssh.NewClient(ncc, chans, reqs), target: target}, nil
}

// Target returns the endpoint this client is connected to.
func (c *Client) Target() Target {
	return c.target
}

// Close tears down the transport.
func (c *Client) Close() error {
	return c.sshClient.Close()
}

// Run executes command under a login shell in a fresh session and captures
// stdout, stderr and the exit status separately. A non-zero exit is not an
// error: the command ran, and the result carries its outcome.
func (c *Client) Run(ctx context.Context, command string, opts RunOptions) (*Result, error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, errors.WrapSessionError("open session", c.target.Name, err)
	}
	defer session.Close()

	return c.startWithContext(ctx, session, command, opts)
}

func (c *Client) startWithContext(ctx context.Context, session *ssh.Session, command string, opts RunOptions) (*Result, error) {
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	res := &Result{Command: command}
	start := time.Now()
	if err := session.Start(PrepareCommand(command, opts)); err != nil {
		return nil, errors.WrapSessionError("start command", c.target.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		res.Duration = time.Since(start)
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		if err != nil {
			switch e := err.(type) {
			case *ssh.ExitError:
				res.ExitCode = e.ExitStatus()
			case *ssh.ExitMissingError:
				// Remote closed without reporting a status.
				res.ExitCode = -1
			default:
				return res, errors.WrapSessionError("run command", c.target.Name, err)
			}
		}
		return res, nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		// Give the output copiers a moment to settle before reading.
		select {
		case <-done:
		case <-time.After(killGraceTimeout):
		}
		res.Duration = time.Since(start)
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		res.ExitCode = -1
		return res, ctx.Err()
	}
}
