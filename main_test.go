package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/config"
)

func TestEmbeddedConfigMatchesBuiltInDefaults(t *testing.T) {
	t.Setenv("SSPA_MCP_TOKEN", "")

	c, err := config.LoadFromBytes(embeddedConfig)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	def := config.Default()
	assert.Equal(t, def.Host, c.Host)
	assert.Equal(t, def.Port, c.Port)
	assert.Equal(t, def.PingInterval, c.PingInterval)
	assert.Equal(t, def.LogLevel, c.LogLevel)
	assert.Equal(t, def.LogFormat, c.LogFormat)
	assert.Empty(t, c.Token)
	assert.True(t, c.OpenMode())
}

func TestEmbeddedConfigExpandsToken(t *testing.T) {
	t.Setenv("SSPA_MCP_TOKEN", "from-env")

	c, err := config.LoadFromBytes(embeddedConfig)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Token)
}
