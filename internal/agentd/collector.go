package agentd

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	gopshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmagar/dash-sub004/internal/proto"
)

// collectMetrics samples system-level metrics for a heartbeat. Individual
// probe failures leave their field zero rather than failing the heartbeat.
func collectMetrics(version string) proto.HostMetrics {
	m := proto.HostMetrics{Version: version}

	if info, err := gopshost.Info(); err == nil {
		m.Hostname = info.Hostname
		m.Platform = info.Platform
		m.Uptime = info.Uptime
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		m.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		m.DiskPercent = du.UsedPercent
	}
	return m
}

// collectProcesses lists local processes. Per-process lookups that fail
// (short-lived pids, permissions) are skipped.
func collectProcesses() ([]proto.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make([]proto.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := proto.ProcessInfo{PID: p.Pid}

		if name, err := p.Name(); err == nil {
			info.Name = name
		} else {
			continue
		}
		if cmdline, err := p.Cmdline(); err == nil && cmdline != "" {
			info.Command = cmdline
		} else {
			info.Command = info.Name
		}
		if user, err := p.Username(); err == nil {
			info.User = user
		}
		if statuses, err := p.Status(); err == nil && len(statuses) > 0 {
			info.Status = statuses[0]
		}
		if cpu, err := p.CPUPercent(); err == nil {
			info.CPUPercent = cpu
		}
		if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
			info.MemoryRSS = memInfo.RSS
		}
		if io, err := p.IOCounters(); err == nil && io != nil {
			info.ReadBytes = io.ReadBytes
			info.WriteBytes = io.WriteBytes
		}

		out = append(out, info)
	}
	return out, nil
}
