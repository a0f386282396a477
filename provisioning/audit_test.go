package provisioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLine(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "[2025-03-01T09:30:00Z] KYC submitted\n", auditLine(at, "KYC submitted"))
	assert.Equal(t, "[2025-03-01T09:30:00Z] provider said: bad request\n",
		auditLine(at, "provider said:\n  bad\trequest"), "one entry is one line")
}

func TestParseAuditLog(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	log := auditLine(t0, "request created") +
		auditLine(t0.Add(time.Minute), "managed account ma-1 created") +
		"legacy line without timestamp\n" +
		"[not-a-time] odd\n" +
		"\n"

	entries := ParseAuditLog(log)
	require.Len(t, entries, 4)
	assert.True(t, entries[0].Time.Equal(t0))
	assert.Equal(t, "request created", entries[0].Message)
	assert.True(t, entries[1].Time.Equal(t0.Add(time.Minute)))
	assert.Equal(t, "managed account ma-1 created", entries[1].Message)
	assert.True(t, entries[2].Time.IsZero())
	assert.Equal(t, "legacy line without timestamp", entries[2].Message)
	assert.Equal(t, "[not-a-time] odd", entries[3].Message)
}

func TestParseAuditLogEmpty(t *testing.T) {
	assert.Empty(t, ParseAuditLog(""))
}
