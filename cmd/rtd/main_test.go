package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRtdMainPropagatesConfigLoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	err := rtdMain(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

// Without real /dev/cpu/*/msr device files (true of any sandboxed test
// runner), opening the HardwareIO backend during bootstrap always fails;
// rtdMain must surface that as a wrapped bootstrap error rather than
// panicking or hanging.
func TestRtdMainPropagatesBootstrapErrorWithoutMSRDevices(t *testing.T) {
	err := rtdMain("", ":0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap")
}
