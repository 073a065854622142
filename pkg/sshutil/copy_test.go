package sshutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsWindowsPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{`C:\fleet-agent\agent.yaml`, true},
		{`D:/data/agent.exe`, true},
		{`c:\lower`, true},
		{"/opt/fleet-agent/agent.yaml", false},
		{"relative/path", false},
		{`relative\path`, false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isWindowsPath(tt.path), tt.path)
	}
}

func TestWinDir(t *testing.T) {
	assert.Equal(t, `C:\fleet-agent`, winDir(`C:\fleet-agent\agent.yaml`))
	assert.Equal(t, `C:\a\b`, winDir(`C:\a\b\c`))
	assert.Equal(t, "", winDir(`C:\agent.yaml`), "file directly under the drive root needs no mkdir")
}

func TestWinWriteCommandQuoting(t *testing.T) {
	cmd := winWriteCommand(`C:\fleet-agent\agent.yaml`)
	assert.Contains(t, cmd, "powershell -NoProfile -NonInteractive")
	assert.Contains(t, cmd, `[IO.File]::Create('C:\fleet-agent\agent.yaml')`)

	// Single quotes in the path must be doubled for the PS literal.
	cmd = winWriteCommand(`C:\o'brien\agent.yaml`)
	assert.Contains(t, cmd, `'C:\o''brien\agent.yaml'`)
}
