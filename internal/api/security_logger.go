package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// SecurityLogger writes protocol and validation events without exposing
// seeds or key material.
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger creates a logger with the [SECURITY] prefix
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: log.New(os.Stdout, "[SECURITY] ", log.LstdFlags|log.LUTC),
	}
}

// SetLogger replaces the underlying logger
func (sl *SecurityLogger) SetLogger(l *log.Logger) { sl.logger = l }

// LogGameOperation logs a state-changing protocol call and its outcome
func (sl *SecurityLogger) LogGameOperation(requestID, operation, gameID, player, outcome string, details map[string]interface{}) {
	sl.emit("game_operation", details,
		"request_id", requestID,
		"operation", operation,
		"game_id", gameID,
		"player", player,
		"outcome", outcome,
	)
}

// LogSecurityEvent logs rejected input
func (sl *SecurityLogger) LogSecurityEvent(requestID, eventType, description string, context map[string]interface{}, remoteAddr string) {
	sl.emit("security_event", context,
		"request_id", requestID,
		"type", eventType,
		"description", fmt.Sprintf("%q", description),
		"remote_addr", remoteAddr,
	)
}

// LogAuditEvent logs non-mutating requests worth keeping, e.g. health probes
func (sl *SecurityLogger) LogAuditEvent(requestID, action, resource, outcome string, details map[string]interface{}) {
	sl.emit("audit_event", details,
		"request_id", requestID,
		"action", action,
		"resource", resource,
		"outcome", outcome,
	)
}

// LogSystemStartup logs which collaborators the server was built with
func (sl *SecurityLogger) LogSystemStartup(details map[string]interface{}) {
	sl.emit("system_startup", details, "git_commit", GitCommit)
}

// emit prints event followed by the ordered pairs, then the sanitized
// details sorted by key.
func (sl *SecurityLogger) emit(event string, details map[string]interface{}, pairs ...string) {
	var b strings.Builder
	b.WriteString(event)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, " %s=%s", pairs[i], pairs[i+1])
	}

	clean := sanitizeContext(details)
	keys := make([]string, 0, len(clean))
	for k := range clean {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, clean[k])
	}

	fmt.Fprintf(&b, " engine_version=%s timestamp=%s", EngineVersion, time.Now().UTC().Format(time.RFC3339))
	sl.logger.Print(b.String())
}

// hashSeed returns the first 16 hex chars of sha256(seed)
func hashSeed(seed string) string {
	if seed == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}

// sanitizeContext hashes seeds and redacts secrets
func sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if context == nil {
		return nil
	}

	out := make(map[string]interface{}, len(context))
	for key, value := range context {
		switch key {
		case "seed", "player_seed", "scoring_seed", "game_seed":
			if s, ok := value.(string); ok {
				out[key+"_hash"] = hashSeed(s)
			} else {
				out[key+"_hash"] = "non_string_value"
			}
		case "private_key", "secret", "password", "token":
			out[key] = "[REDACTED]"
		default:
			out[key] = value
		}
	}
	return out
}
