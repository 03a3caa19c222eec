// Package config provides application configuration from environment
// variables, with an optional YAML file for the access section that can
// be hot-reloaded while the server runs.
//
// # Environment variables
//
// Server settings:
//
//	GROUPGATE_HOST="0.0.0.0"
//	GROUPGATE_PORT="8080"
//	GROUPGATE_HEALTH_PORT="9090"
//	GROUPGATE_READ_TIMEOUT="15s"
//	GROUPGATE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	GROUPGATE_POSTGRES_URL="postgres://localhost/groupgate"
//	GROUPGATE_POSTGRES_MAX_CONNS="25"
//
// Access settings:
//
//	GROUPGATE_ACCESS_STRATEGY="filter"     # filter, exclude, include, propagate
//	GROUPGATE_PROPAGATE_ENABLED="false"
//	GROUPGATE_READ_ITEM_TYPES="post,page"
//	GROUPGATE_EDIT_ITEM_TYPES="post,page"
//	GROUPGATE_MARKING_SYMBOL="*"
//	GROUPGATE_PARENT_CHECK_MODE="always"   # always, inherit-only
//	GROUPGATE_MAX_DEPTH="64"
//	GROUPGATE_SUPER_USERS="1,2"
//
// # File overlay
//
// GROUPGATE_ACCESS_CONFIG_FILE points at a YAML file whose fields
// override the access section. A Watcher reloads the file on change:
//
//	settings := config.NewSettings(cfg.Access)
//	watcher, _ := config.NewWatcher(cfg.AccessConfigFile, settings, logger)
//	go watcher.Run(ctx)
package config
