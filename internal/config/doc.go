// Package config provides configuration loading, validation, and hot
// reload for the edge gateway.
//
// # Features
//
//   - YAML configuration with defaults for omitted fields
//   - Environment variable substitution with ${VAR:-default} syntax
//   - Duration type for human-readable time values
//   - Startup validation: listeners, routes, TLS material, probe and
//     rate-limit settings
//   - File watching with debounce driving configuration hot reload
//
// # Loading
//
//	cfg, err := config.LoadConfig("configs/edgegw.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// # Watching
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
//	    // apply the new configuration
//	})
//	err = watcher.Start(ctx)
package config
