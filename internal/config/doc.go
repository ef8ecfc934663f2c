// Package config provides configuration types and loading for the
// GraphQL observability engine.
//
// This package defines the complete configuration model, YAML loading,
// validation, and file watching for hot-reload support.
//
// # Configuration Loading
//
// Load and validate configuration from a YAML file:
//
//	cfg, err := config.LoadAndValidateConfig("gqlscope.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Watching
//
// Watch for configuration changes:
//
//	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
//	    // Handle configuration update
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	watcher.Start(ctx)
package config
