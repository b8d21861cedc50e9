package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile, portFlag, hostFlag, tokenFlag, showVersion = "", 0, "", "", false
		baseConfig = config.Default()
	})
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func changedSet(names ...string) func(string) bool {
	return func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	resetFlags(t)

	dir := t.TempDir()
	cfgFile = filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("port: 20000\ntoken: from-file\nextensionIds: [a, b]\n"), 0o600))

	env := lookupFrom(map[string]string{"SSPA_MCP_PORT": "20001"})

	cfg, err := loadConfig(changedSet(), env)
	require.NoError(t, err)
	assert.Equal(t, 20001, cfg.Port, "environment beats file")
	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, []string{"a", "b"}, cfg.ExtensionIDs)

	portFlag, tokenFlag = 20002, "from-flag"
	cfg, err = loadConfig(changedSet("port", "token"), env)
	require.NoError(t, err)
	assert.Equal(t, 20002, cfg.Port, "flags beat environment")
	assert.Equal(t, "from-flag", cfg.Token)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoadConfigRejectsBadPortFlag(t *testing.T) {
	resetFlags(t)

	portFlag = 70000
	_, err := loadConfig(changedSet("port"), lookupFrom(nil))
	assert.ErrorContains(t, err, "out of range")
}

func TestVersionCommand(t *testing.T) {
	resetFlags(t)

	var out bytes.Buffer
	root := SetupRootCmd(nil)
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "sspa-mcp 0.0.1")

	out.Reset()
	root = SetupRootCmd(nil)
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "CDP 1.3")
}

func TestSetupRootCmdUsesDefaultsAsBaseLayer(t *testing.T) {
	resetFlags(t)

	defaults := config.Default()
	defaults.Port = 23000
	defaults.ExtensionIDs = []string{"embedded"}
	SetupRootCmd(&defaults)

	cfg, err := loadConfig(changedSet(), lookupFrom(map[string]string{"SSPA_MCP_TOKEN": "env"}))
	require.NoError(t, err)
	assert.Equal(t, 23000, cfg.Port)
	assert.Equal(t, []string{"embedded"}, cfg.ExtensionIDs)
	assert.Equal(t, "env", cfg.Token)
}
