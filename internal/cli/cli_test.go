package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildCLIRegistersSubcommands tests that BuildCLI wires up the run,
// submit, and stats subcommands under the root command.
func TestBuildCLIRegistersSubcommands(t *testing.T) {
	root := BuildCLI()
	assert.Equal(t, "gopool", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "submit")
	assert.Contains(t, names, "stats")
}

// TestSubmitCommandRequiresMethodFlag tests that the submit subcommand
// rejects execution without its required --method flag.
func TestSubmitCommandRequiresMethodFlag(t *testing.T) {
	root := BuildCLI()
	root.SetArgs([]string{"submit"})
	err := root.Execute()
	require.Error(t, err)
}

// TestShowStatsWithoutRunningPoolReportsGracefully tests that stats does not
// panic or error when no pool has been started in this process.
func TestShowStatsWithoutRunningPoolReportsGracefully(t *testing.T) {
	globalPool = nil
	assert.NoError(t, showStats())
}

// TestParseParamParsesNumericString tests that parseParam converts a
// numeric-looking argument to float64 and leaves everything else as string.
func TestParseParamParsesNumericString(t *testing.T) {
	assert.Equal(t, float64(42), parseParam("42"))
	assert.Equal(t, float64(3.5), parseParam("3.5"))
	assert.Equal(t, "hello", parseParam("hello"))
}
