// Package logx is schedtrack's logging layer: zerolog behind functional
// fields, with sinks (console, JSON stdout, JSON file) that can be swapped
// while the daemon runs.
package logx
