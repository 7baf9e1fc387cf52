package main

import (
	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub004/internal/config"
)

// loadConfig builds an AppConfig from the config file and environment
// (config.Load), then applies this command's persistent flags on top —
// flags win over both, matching the teacher's "most specific source wins"
// convention.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("endpoint-path"); v != "" {
		cfg.EndpointPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("agent-role"); v != "" {
		cfg.AgentRole = v
	}

	return cfg, nil
}
