// Package config handles loading and parsing of configuration from YAML
// files and environment variables. It defines the application
// configuration structure including server settings, downstream service
// descriptors, route entries, health-poll cadence, and logging.
package config
