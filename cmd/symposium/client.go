package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub004/internal/bridge"
	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the Bridge Client, translating stdin/stdout lines into bus envelopes",
	RunE:  runClient,
}

func init() {
	clientCmd.Flags().String("type", "", "type tag every stdin line is wrapped in (required)")
	clientCmd.Flags().String("role", "client", "role this Bridge subscribes under")
	clientCmd.Flags().StringSlice("subscribe", nil, "type tags to forward to stdout (default: every broadcast and directed-to-self type)")
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	typeTag, _ := cmd.Flags().GetString("type")
	if typeTag == "" {
		return fmt.Errorf("client: --type is required")
	}
	role, _ := cmd.Flags().GetString("role")
	subscribeNames, _ := cmd.Flags().GetStringSlice("subscribe")

	var subscription []envelope.Tag
	for _, name := range subscribeNames {
		subscription = append(subscription, envelope.Tag(name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return bridge.Run(ctx, bridge.Options{
		EndpointPath: cfg.EndpointPath,
		Role:         role,
		TypeTag:      envelope.Tag(typeTag),
		Subscription: subscription,
		In:           os.Stdin,
		Out:          os.Stdout,
		SpawnDaemon:  spawnDetachedDaemon(cfg.EndpointPath),
	})
}

// spawnDetachedDaemon returns a bridge.Options.SpawnDaemon closure that
// starts this same executable's "daemon" subcommand as a detached
// subprocess bound to endpointPath, per §4.3's "spawns one in a detached
// subprocess" lifecycle step.
func spawnDetachedDaemon(endpointPath string) func() error {
	return func() error {
		self, err := os.Executable()
		if err != nil {
			return err
		}
		proc := exec.Command(self, "daemon", "--endpoint-path", endpointPath)
		proc.Stdin = nil
		proc.Stdout = nil
		proc.Stderr = nil
		setDetached(proc)
		return proc.Start()
	}
}
