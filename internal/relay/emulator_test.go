package relay

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/config"
)

func TestEmulatorLogsUndecodableParams(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := New(config.Default(), WithLogger(logger))
	t.Cleanup(r.Close)

	r.route("X", r.routerLog, []byte(`{"id":1,"method":"Target.attachToTarget","params":{"targetId":5}}`))
	r.route("X", r.routerLog, []byte(`{"id":2,"method":"Target.setDiscoverTargets","params":{"discover":"yes"}}`))

	out := buf.String()
	assert.Contains(t, out, "Ignoring undecodable params")
	assert.Contains(t, out, "method=Target.attachToTarget")
	assert.Contains(t, out, "method=Target.setDiscoverTargets")
	assert.Equal(t, 0, r.PendingCount(), "emulated methods are answered locally even with bad params")
}
