// Package config loads, normalizes, and validates Scribe's TOML
// configuration. Callers receive a fully expanded Config; zero values are
// replaced with repository defaults before validation runs.
package config
