// Package config loads host settings from defaults, an optional YAML file
// and FUTHARK_ environment variables:
//
//	engine:
//	  mode: interpreter
//	  memory_limit_pages: 4096
//	  wasi:
//	    stdout: stderr
//	    stderr: discard
//	log:
//	  level: debug
//	telemetry:
//	  trace: true
//
// Environment variables override the file, with a double underscore
// between levels (FUTHARK_LOG__LEVEL=info).
package config
