package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundradar/radar/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"run", "serve", "digest", "runs", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "radar", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("slot")
	require.NotNil(t, flag, "run command should have --slot flag")

	manual := runCmd.Flags().Lookup("manual")
	require.NotNil(t, manual, "run command should have --manual flag")
	assert.Equal(t, "false", manual.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDigestCommand_Flags(t *testing.T) {
	require.NotNil(t, digestCmd.Flags().Lookup("date"))
	send := digestCmd.Flags().Lookup("send")
	require.NotNil(t, send)
	assert.Equal(t, "false", send.DefValue)
}

func TestNearestSlot(t *testing.T) {
	cfg = &config.Config{Radar: config.RadarConfig{
		Slots: []string{"07:00", "12:00", "14:00", "18:00", "22:00"},
	}}
	t.Cleanup(func() { cfg = nil })

	tests := []struct {
		clock string
		want  string
	}{
		{"06:30", "07:00"}, // before the schedule starts
		{"07:00", "07:00"},
		{"13:59", "12:00"},
		{"23:10", "22:00"},
	}
	for _, tt := range tests {
		now, err := time.Parse("15:04", tt.clock)
		require.NoError(t, err)
		assert.Equal(t, tt.want, nearestSlot(now), "clock %s", tt.clock)
	}
}
