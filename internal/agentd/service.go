package agentd

import (
	kardianos "github.com/kardianos/service"
)

// program adapts the agent to the kardianos service interface so one binary
// runs interactively, under systemd, or as a Windows service.
type program struct {
	agent *Agent
	stop  chan struct{}
}

func (p *program) Start(s kardianos.Service) error {
	go p.agent.Run(p.stop)
	return nil
}

func (p *program) Stop(s kardianos.Service) error {
	close(p.stop)
	return nil
}

// NewService wraps an agent in an OS service handle.
func NewService(agent *Agent, name string) (kardianos.Service, error) {
	return kardianos.New(&program{agent: agent, stop: make(chan struct{})}, &kardianos.Config{
		Name:        name,
		DisplayName: "Fleet Agent",
		Description: "Reports host metrics and processes to the fleet management server",
	})
}
