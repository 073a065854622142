package sshutil

import (
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/jmagar/dash-sub004/internal/errors"
)

// WriteFile streams r into remotePath, creating parent directories first.
// mode is an octal chmod string like "0755"; empty means leave the default.
// Drive-letter paths go through PowerShell, since Windows OpenSSH executes
// commands under cmd.exe where the unix mkdir/cat/chmod sequence fails;
// mode is ignored for them.
func (c *Client) WriteFile(remotePath string, r io.Reader, mode string) error {
	if isWindowsPath(remotePath) {
		return c.writeFileWindows(remotePath, r)
	}

	dir := path.Dir(remotePath)
	if dir != "." && dir != "/" {
		if _, err := c.Output(fmt.Sprintf("mkdir -p %q", dir)); err != nil {
			return errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to create remote directory "+dir, "").WithHost(c.hostID)
		}
	}

	if err := c.streamTo(fmt.Sprintf("cat > %q", remotePath), remotePath, r); err != nil {
		return err
	}

	if mode != "" {
		if _, err := c.Output(fmt.Sprintf("chmod %s %q", mode, remotePath)); err != nil {
			return errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to chmod "+remotePath, "").WithHost(c.hostID)
		}
	}

	return nil
}

func (c *Client) writeFileWindows(remotePath string, r io.Reader) error {
	if dir := winDir(remotePath); dir != "" {
		mkdir := fmt.Sprintf(
			`powershell -NoProfile -NonInteractive -Command "New-Item -ItemType Directory -Force -Path '%s' | Out-Null"`,
			psQuote(dir))
		if _, err := c.Output(mkdir); err != nil {
			return errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to create remote directory "+dir, "").WithHost(c.hostID)
		}
	}
	return c.streamTo(winWriteCommand(remotePath), remotePath, r)
}

// streamTo starts cmd on the remote side and pipes r into its stdin.
func (c *Client) streamTo(cmd, remotePath string, r io.Reader) error {
	session, err := c.NewSession()
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.").WithHost(c.hostID)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to open stdin pipe", "").WithHost(c.hostID)
	}

	if err := session.Start(cmd); err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to start remote write to "+remotePath, "").WithHost(c.hostID)
	}

	if _, err := io.Copy(stdin, r); err != nil {
		stdin.Close()
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed streaming file content to "+remotePath, "").WithHost(c.hostID)
	}
	if err := stdin.Close(); err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to finish remote write to "+remotePath, "").WithHost(c.hostID)
	}

	if err := session.Wait(); err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Remote write to "+remotePath+" failed",
			"Check the remote path is writable").WithHost(c.hostID)
	}

	return nil
}

var winPathRe = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

func isWindowsPath(p string) bool {
	return winPathRe.MatchString(p)
}

// winDir returns the parent directory of a drive-letter path, or "" when the
// path sits directly under the drive root.
func winDir(p string) string {
	i := strings.LastIndexAny(p, `\/`)
	if i <= 2 {
		return ""
	}
	return p[:i]
}

// psQuote escapes s for use inside a single-quoted PowerShell literal.
func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// winWriteCommand copies stdin byte-for-byte into remotePath.
func winWriteCommand(remotePath string) string {
	return fmt.Sprintf(
		`powershell -NoProfile -NonInteractive -Command "$in=[Console]::OpenStandardInput(); $out=[IO.File]::Create('%s'); $in.CopyTo($out); $out.Close()"`,
		psQuote(remotePath))
}

// CopyFile pushes a local file to remotePath, preserving an executable bit
// via mode when given.
func (c *Client) CopyFile(localPath, remotePath, mode string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to open local file "+localPath,
			"Check the file exists and is readable").WithHost(c.hostID)
	}
	defer f.Close()

	return c.WriteFile(remotePath, f, mode)
}
