package installer

import (
	"bytes"
	"fmt"

	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
)

// Windows hosts get a fixed install root; the configured InstallDir is a
// unix path and does not translate.
const winInstallDir = `C:\fleet-agent`

func (i *Installer) installWindows(c sshutil.SSHClient, h host.Host, opts Options) error {
	if opts.InstallInContainer {
		return errors.New(errors.ErrInstall,
			fmt.Sprintf("container install is not supported on windows host %s", h.ID),
			"install natively or target a linux host").WithHost(h.ID)
	}

	cfgBytes, err := i.renderAgentConfig(h, opts)
	if err != nil {
		return i.translate(h.ID, h.OS, "render config", err)
	}

	cfgPath := winInstallDir + `\agent.yaml`
	if err := c.WriteFile(cfgPath, bytes.NewReader(cfgBytes), ""); err != nil {
		return i.translate(h.ID, h.OS, "write config", err)
	}

	binPath := winInstallDir + `\` + i.cfg.ServiceName + `.exe`
	if err := c.CopyFile(i.cfg.BinarySource, binPath, ""); err != nil {
		return i.translate(h.ID, h.OS, "copy binary", err)
	}

	create := fmt.Sprintf(`sc.exe create %s binPath= "%s --config %s" start= auto`,
		i.cfg.ServiceName, binPath, cfgPath)
	if _, err := c.Output(create); err != nil {
		return i.translate(h.ID, h.OS, "create service", err)
	}
	if _, err := c.Output("sc.exe start " + i.cfg.ServiceName); err != nil {
		return i.translate(h.ID, h.OS, "start service", err)
	}
	return nil
}

func (i *Installer) uninstallWindows(c sshutil.SSHClient, h host.Host) error {
	steps := []struct {
		name string
		cmd  string
	}{
		{"stop service", "sc.exe stop " + i.cfg.ServiceName},
		{"delete service", "sc.exe delete " + i.cfg.ServiceName},
		{"delete files", `cmd.exe /c rmdir /s /q ` + winInstallDir},
	}
	for _, s := range steps {
		if _, err := c.Output(s.cmd); err != nil {
			i.log.Warn("uninstall step %q on host %s failed, continuing: %v", s.name, h.ID, err)
		}
	}
	return nil
}

func (i *Installer) startWindows(c sshutil.SSHClient, h host.Host) error {
	if _, err := c.Output("sc.exe start " + i.cfg.ServiceName); err != nil {
		return i.translate(h.ID, h.OS, "start service", err)
	}
	return nil
}

func (i *Installer) stopWindows(c sshutil.SSHClient, h host.Host) error {
	if _, err := c.Output("sc.exe stop " + i.cfg.ServiceName); err != nil {
		return i.translate(h.ID, h.OS, "stop service", err)
	}
	return nil
}
