package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub004/internal/busclient"
	"github.com/socratic-shell/symposium-sub004/internal/reference"
	"github.com/socratic-shell/symposium-sub004/internal/toolserver"
)

var toolServerCmd = &cobra.Command{
	Use:   "tool-server",
	Short: "Run the Tool Server Layer, exposing the tool catalog over stdin/stdout",
	RunE:  runToolServer,
}

func init() {
	toolServerCmd.Flags().Duration("deadline", toolserver.DefaultDeadline, "per-tool reply deadline")
	toolServerCmd.Flags().String("working-dir", "", "directory to resolve self-identity from (default: process cwd)")
}

func runToolServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	deadline, _ := cmd.Flags().GetDuration("deadline")
	workingDir, _ := cmd.Flags().GetString("working-dir")
	if workingDir == "" {
		workingDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	identity, err := toolserver.ResolveIdentity(workingDir)
	if err != nil && err != toolserver.ErrNoSelfIdentity {
		return err
	}

	client, err := busclient.Dial(cfg.EndpointPath, "tool-server", nil)
	if err != nil {
		return err
	}
	defer client.Close()

	refs := reference.NewTable(reference.LoadBundle(cfg.AgentRole))
	server := toolserver.New(client, refs, identity, deadline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	serveErr := server.Serve(ctx, os.Stdin, os.Stdout)
	cancel()
	if serveErr != nil {
		return serveErr
	}

	select {
	case err := <-runErr:
		return err
	case <-time.After(time.Second):
		return nil
	}
}
