package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCLICommands(t *testing.T) {
	root := BuildCLI()
	require.Equal(t, "otter", root.Use)

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	require.Contains(t, names, "run")
	require.Contains(t, names, "demo")
}

func TestRunCommandHasConfigFlag(t *testing.T) {
	root := BuildCLI()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)

	flag := run.Flags().Lookup("config")
	require.NotNil(t, flag)
	require.Equal(t, "c", flag.Shorthand)
}

func TestRunFailsOnMissingConfig(t *testing.T) {
	root := BuildCLI()
	root.SetArgs([]string{"run", "-c", "does/not/exist.yaml"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))

	err := root.Execute()
	require.Error(t, err)
}

func TestDemoReplicatesLocally(t *testing.T) {
	if testing.Short() {
		t.Skip("demo runs a live three-node cluster")
	}
	var out bytes.Buffer
	require.NoError(t, runDemo(&out))

	require.Contains(t, out.String(), "leader elected:")
	require.True(t, strings.Contains(out.String(), `"demo":4`), out.String())
}
