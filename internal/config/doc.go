// Package config loads, normalizes, and validates hush configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides for the
// external tool binaries (HUSH_FFMPEG, HUSH_FFPROBE, HUSH_DEEPFILTER,
// HUSH_SOX). The Config type centralizes every knob the pipeline and CLI
// need so staging directories, tool timeouts and enhancement policy are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
