package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3")
	require.NotNil(t, cmd)
	assert.Equal(t, "mirrorctl", cmd.Use)
	assert.Equal(t, "1.2.3", cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("dev")
	commands := [][]string{
		{"node"},
		{"targets"},
		{"targets", "set-state"},
		{"groups"},
		{"groups", "create"},
		{"groups", "delete"},
		{"groups", "swap"},
		{"resync", "start"},
		{"resync", "stats"},
		{"resync", "abort"},
		{"events"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("dev")

	server := cmd.PersistentFlags().Lookup("server")
	require.NotNil(t, server)
	assert.Equal(t, "s", server.Shorthand)
	assert.Equal(t, "http://127.0.0.1:8008", server.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand("dev")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"node", "--format", "yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestParseID(t *testing.T) {
	id, err := parseID("17")
	require.NoError(t, err)
	assert.Equal(t, uint16(17), id)

	for _, bad := range []string{"0", "70000", "x", ""} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
