// Package config loads the daemon configuration from a YAML file, an optional
// .env file and process environment overrides, then fills in defaults.
// Components below this package receive explicit values and never read the
// environment themselves.
package config
