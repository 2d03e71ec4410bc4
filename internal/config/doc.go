// Package config manages application settings for the trackcache engine.
//
// Settings are stored as YAML. Loading a missing file returns defaults, so
// the engine works with zero setup:
//
//	settings, err := config.Load(config.DefaultConfigPath())
//
// Provider mirror lists and the proxy rotation are part of Settings rather
// than code, so hosts can be added or retired without a rebuild.
package config
