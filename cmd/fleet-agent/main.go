package main

import (
	"fmt"
	"os"
	"runtime"

	kardianos "github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/jmagar/dash-sub004/internal/agentd"
)

// Version info set via ldflags at build time:
//
//	go build -ldflags "-X main.version=1.0.0"
var version = "dev"

var cfgFlag string

var rootCmd = &cobra.Command{
	Use:   "fleet-agent",
	Short: "Fleet monitoring agent",
	Long: `fleet-agent runs on managed hosts. It connects out to the fleet server,
reports metrics and processes over a persistent websocket, and executes
commands dispatched by the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService("run")
	},
}

var serviceCmd = &cobra.Command{
	Use:       "service [install|uninstall|start|stop]",
	Short:     "Manage the OS service registration",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"install", "uninstall", "start", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleet-agent %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func runService(action string) error {
	cfg, err := agentd.LoadConfig(cfgFlag)
	if err != nil {
		return err
	}

	log := agentd.NewLogger(cfg.LogDir)
	agent := agentd.New(cfg, version, log)

	svc, err := agentd.NewService(agent, "fleet-agent")
	if err != nil {
		return err
	}

	if action == "run" {
		return svc.Run()
	}
	return kardianos.Control(svc, action)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFlag, "config", "", "agent config file (YAML)")
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
