// Package logging provides structured logging for a mesh node.
//
// It wraps log/slog to give every node component consistent, structured
// output:
//
//   - JSON output for production, text for development
//   - Default fields (node id, version) on every entry
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// Logging is configured via the LoggingConfig section of node.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "node-1")
//	logger.Info("starting node", "domain", cfg.DefaultDomain)
//	logger.Error("link dial failed", "peer", addr, "error", err)
package logging
