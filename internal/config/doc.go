// Package config loads, normalizes, and validates uploadai configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// UPLOADAI_API_URL. The Config type centralizes the engine, remote API, local
// server, and logging knobs so the CLI and the control server discover them in
// one pass.
package config
