package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub004/internal/config"
	"github.com/socratic-shell/symposium-sub004/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Win or join the broker election and run the Broker Core until shutdown",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().String("project", "", "path to the project directory this daemon's embedded Orchestrator manages")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	projectPath, _ := cmd.Flags().GetString("project")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return daemon.Run(ctx, cfg, daemon.Options{ProjectPath: projectPath})
}
