package installer

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/jmagar/dash-sub004/internal/host"
	"github.com/jmagar/dash-sub004/pkg/sshutil"
)

func (i *Installer) installLinux(c sshutil.SSHClient, h host.Host, opts Options) error {
	cfgBytes, err := i.renderAgentConfig(h, opts)
	if err != nil {
		return i.translate(h.ID, h.OS, "render config", err)
	}

	dir := i.cfg.InstallDir
	if err := c.WriteFile(path.Join(dir, "agent.yaml"), bytes.NewReader(cfgBytes), "0644"); err != nil {
		return i.translate(h.ID, h.OS, "write config", err)
	}

	if opts.InstallInContainer {
		return i.runContainer(c, h, opts)
	}

	binPath := path.Join(dir, i.cfg.ServiceName)
	if err := c.CopyFile(i.cfg.BinarySource, binPath, "0755"); err != nil {
		return i.translate(h.ID, h.OS, "copy binary", err)
	}

	unit := i.renderSystemdUnit(binPath, path.Join(dir, "agent.yaml"))
	unitPath := "/etc/systemd/system/" + i.cfg.ServiceName + ".service"
	if err := c.WriteFile(unitPath, strings.NewReader(unit), "0644"); err != nil {
		return i.translate(h.ID, h.OS, "write unit", err)
	}

	if _, err := c.Output("systemctl daemon-reload"); err != nil {
		return i.translate(h.ID, h.OS, "reload systemd", err)
	}
	if _, err := c.Output("systemctl enable --now " + i.cfg.ServiceName); err != nil {
		return i.translate(h.ID, h.OS, "enable service", err)
	}
	return nil
}

// runContainer brings the agent up under docker. A stale container with the
// same name from an earlier install is removed first.
func (i *Installer) runContainer(c sshutil.SSHClient, h host.Host, opts Options) error {
	_, _, _, _ = c.Exec("docker rm -f " + i.cfg.ServiceName)

	args := []string{
		"docker", "run", "-d",
		"--name", i.cfg.ServiceName,
		"--restart", "unless-stopped",
	}
	if opts.HostNetwork {
		args = append(args, "--network", "host")
	}
	args = append(args, "-v", i.cfg.InstallDir+":/etc/fleet-agent:ro")
	for _, v := range opts.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, i.cfg.Image)

	if _, err := c.Output(strings.Join(args, " ")); err != nil {
		return i.translate(h.ID, h.OS, "run container", err)
	}
	return nil
}

func (i *Installer) uninstallLinux(c sshutil.SSHClient, h host.Host) error {
	// Covers both native and container installs; steps that do not apply to
	// this host simply fail and are skipped.
	steps := []struct {
		name string
		cmd  string
	}{
		{"stop service", "systemctl stop " + i.cfg.ServiceName},
		{"disable service", "systemctl disable " + i.cfg.ServiceName},
		{"remove unit", "rm -f /etc/systemd/system/" + i.cfg.ServiceName + ".service"},
		{"reload systemd", "systemctl daemon-reload"},
		{"remove container", "docker rm -f " + i.cfg.ServiceName},
		{"delete files", "rm -rf " + i.cfg.InstallDir},
	}
	for _, s := range steps {
		if _, err := c.Output(s.cmd); err != nil {
			i.log.Warn("uninstall step %q on host %s failed, continuing: %v", s.name, h.ID, err)
		}
	}
	return nil
}

func (i *Installer) startLinux(c sshutil.SSHClient, h host.Host) error {
	if _, err := c.Output("systemctl start " + i.cfg.ServiceName); err != nil {
		if _, derr := c.Output("docker start " + i.cfg.ServiceName); derr == nil {
			return nil
		}
		return i.translate(h.ID, h.OS, "start service", err)
	}
	return nil
}

func (i *Installer) stopLinux(c sshutil.SSHClient, h host.Host) error {
	if _, err := c.Output("systemctl stop " + i.cfg.ServiceName); err != nil {
		if _, derr := c.Output("docker stop " + i.cfg.ServiceName); derr == nil {
			return nil
		}
		return i.translate(h.ID, h.OS, "stop service", err)
	}
	return nil
}

func (i *Installer) renderSystemdUnit(binPath, cfgPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Fleet monitoring agent
After=network-online.target
Wants=network-online.target

[Service]
ExecStart=%s --config %s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`, binPath, cfgPath)
}
