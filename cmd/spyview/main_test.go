package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stacks = `[thread 0x1a];main (app.py:1);work (app.py:10) 2
[thread 0x2b];[idle];main (app.py:1);sleep (time.py:5) 1
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeStacks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stacks.txt")
	require.NoError(t, os.WriteFile(path, []byte(stacks), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestDumpListing(t *testing.T) {
	color.NoColor = true

	out, err := execute(t, "dump", "--source", "replay", "--replay", writeStacks(t), "--batch-size", "2", "-n", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Thread 0x1A (active+gil)\n\twork (app.py:10)\n\tmain (app.py:1)\n")
	assert.Contains(t, out, "Thread 0x2B (idle)\n\tsleep (time.py:5)\n")
}

func TestDumpCollapsedRoundTrip(t *testing.T) {
	out, err := execute(t, "dump", "--source", "replay", "--replay", writeStacks(t), "--collapsed", "-n", "0")
	require.NoError(t, err)
	assert.Equal(t, "[thread 0x1a];main (app.py:1);work (app.py:10) 2\n[thread 0x2b];[idle];main (app.py:1);sleep (time.py:5) 1\n", out)
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := execute(t, "dump", "--rate", "0")
	assert.ErrorContains(t, err, "sampling rate")

	_, err = execute(t, "dump", "--source", "replay")
	assert.ErrorContains(t, err, "--replay")
}
