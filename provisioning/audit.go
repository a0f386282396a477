package provisioning

import (
	"strings"
	"time"
)

// AuditEntry is one line of a request's error_log column.
type AuditEntry struct {
	Time    time.Time `json:"time" yaml:"time"`
	Message string    `json:"message" yaml:"message"`
}

// auditLine formats "[RFC3339] message\n". Embedded newlines are flattened so
// one entry is always one line.
func auditLine(at time.Time, message string) string {
	message = strings.Join(strings.Fields(message), " ")
	return "[" + at.UTC().Format(time.RFC3339) + "] " + message + "\n"
}

// ParseAuditLog splits the stored audit text into entries, oldest first.
// Lines without a parsable timestamp are kept with a zero Time.
func ParseAuditLog(log string) []AuditEntry {
	var entries []AuditEntry
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entries = append(entries, parseAuditLine(line))
	}
	return entries
}

func parseAuditLine(line string) AuditEntry {
	if !strings.HasPrefix(line, "[") {
		return AuditEntry{Message: line}
	}
	end := strings.Index(line, "] ")
	if end < 0 {
		return AuditEntry{Message: line}
	}
	at, err := time.Parse(time.RFC3339, line[1:end])
	if err != nil {
		return AuditEntry{Message: line}
	}
	return AuditEntry{Time: at, Message: line[end+2:]}
}
