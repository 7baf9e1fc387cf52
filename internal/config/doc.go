// Package config loads the environment- and file-tunable settings shared by
// the daemon, client, and tool-server subcommands.
//
// Load builds an AppConfig from built-in defaults, an optional YAML file,
// and then environment variables, in that order — each stage overrides the
// previous, so an operator can commit a reviewed YAML file for broker
// tuning while still overriding individual values (endpoint path, log
// level, agent role) per invocation without editing it.
//
//	cfg, err := config.Load(configFile)
//	if err != nil {
//	    return err
//	}
//	result, err := acquire.Acquire(cfg.EndpointPath)
//
// AppConfig is a read-only snapshot taken at startup; nothing in this
// package re-reads the environment after Load returns.
package config
