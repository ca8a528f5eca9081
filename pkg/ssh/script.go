package ssh

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/wentf9/xops-mcp/internal/errors"
)

// RunScript uploads the script body over SFTP to a unique path under /tmp,
// marks it executable, runs it under a login shell and removes it again.
// Removal is best-effort: the execution result wins over cleanup failures.
func (c *Client) RunScript(ctx context.Context, script string, opts RunOptions) (*Result, error) {
	remotePath := path.Join("/tmp", fmt.Sprintf("xops-%s.sh", uuid.NewString()))

	ftp, err := sftp.NewClient(c.sshClient)
	if err != nil {
		return nil, errors.WrapSessionError("open sftp", c.target.Name, err)
	}
	defer ftp.Close()

	if err := uploadScript(ftp, remotePath, script); err != nil {
		return nil, errors.WrapSessionError("upload script", c.target.Name, err)
	}

	res, runErr := c.Run(ctx, remotePath, opts)

	if err := ftp.Remove(remotePath); err != nil {
		log.Debug().Str("vm", c.target.Name).Str("path", remotePath).Err(err).
			Msg("script cleanup failed")
	}
	return res, runErr
}

func uploadScript(ftp *sftp.Client, remotePath, script string) error {
	f, err := ftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := f.Write([]byte(script)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remotePath, err)
	}
	if err := ftp.Chmod(remotePath, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", remotePath, err)
	}
	return nil
}
