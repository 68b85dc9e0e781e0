// Package logging provides a thin structured logging layer for mcpgate,
// built on the standard library slog package.
//
// Every log entry carries a subsystem tag so that the OAuth flow, the
// configuration loader, and the HTTP server can be filtered independently:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("OAuth", "Registered OAuth endpoints")
//	logging.Warn("OAuth", "State verification failed: %v", err)
//	logging.Error("Upstream", err, "Token exchange failed event_id=%s", eventID)
//
// Warnings are the expected channel for adversarial or stale input
// (tampered state tokens, expired links, unapproved clients); errors are
// reserved for genuine operational failures such as upstream exchange
// problems, and usually carry an event id for support correlation.
package logging
