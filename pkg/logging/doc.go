// Package logging provides structured logging utilities for the fleet control plane.
//
// # Overview
//
// This package wraps the standard library slog package with defaults shared by
// the daemon and the CLI. It supports environment-based log level configuration,
// module/version context injection, and source location tracking for debug logs.
//
// # Log Levels
//
// Supported log levels (case-insensitive):
//   - DEBUG: Detailed diagnostic information with source location
//   - INFO: General informational messages (default)
//   - WARN/WARNING: Warning messages for potentially problematic situations
//   - ERROR: Error messages for failures requiring attention
//
// # Usage
//
//	func main() {
//	    logging.SetDefaultStructuredLogger("fleetd", version)
//	    slog.Info("refresh cycle finished", "servers", 3, "failed", 1)
//	}
//
// Setting explicit log level:
//
//	logging.SetDefaultStructuredLoggerWithLevel("fleet", version, "warn")
//
// Converting standard library logger:
//
//	stdLogger := logging.NewLogLogger(slog.LevelInfo, false)
//	stdLogger.Println("legacy log message")
//
// # Environment Configuration
//
// The LOG_LEVEL environment variable controls logging verbosity:
//
//	LOG_LEVEL=debug fleetd
//
// # Output Format
//
// All logs are written to stderr in JSON format:
//
//	{
//	    "time": "2025-01-15T10:30:00.123Z",
//	    "level": "INFO",
//	    "msg": "pod status updated",
//	    "module": "fleetd",
//	    "version": "v1.0.0",
//	    "server": "srv-1",
//	    "pod": "web-20250115-103000",
//	    "status": "online"
//	}
package logging
