package relay

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	audit := newAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	audit.logCommand(1, &PendingRequest{ClientID: "client-with-long-id", Method: "DOM.getDocument"})
	assert.Contains(t, buf.String(), "level=INFO msg=cdp_command id=1 client=client-w method=DOM.getDocument")
	assert.NotContains(t, buf.String(), "session=")

	buf.Reset()
	audit.logCommand(2, &PendingRequest{ClientID: "X", Method: "Runtime.evaluate", SessionID: "0123456789ABCDEF"})
	assert.Contains(t, buf.String(), "level=WARN msg=cdp_state_changing_command id=2 client=X method=Runtime.evaluate session=01234567")

	var nilAudit *auditLogger
	assert.NotPanics(t, func() { nilAudit.logCommand(3, &PendingRequest{}) })
}
