// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"-version"}, &out, &errOut))
	assert.Contains(t, out.String(), version)
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\n"), 0o600))

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"-config", path, "-check"}, &out, &errOut), errOut.String())
	assert.Contains(t, out.String(), "configuration OK")

	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nbogus: true\n"), 0o600))
	out.Reset()
	assert.Equal(t, 1, run([]string{"-config", path, "-check"}, &out, &errOut))
	assert.Empty(t, out.String())
}

func TestPipelineCheckAndFmt(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pipeline")
	require.NoError(t, os.WriteFile(good, []byte(`pipeline good {
  input: {kind: synthetic},
  stages: [{name: s, kind: sample, params: {every: 2}}],
  output: [{name: out, kind: discard}],
}`), 0o600))
	unknown := filepath.Join(dir, "unknown.pipeline")
	require.NoError(t, os.WriteFile(unknown, []byte(`pipeline unknown {
  input: {kind: synthetic},
  output: [{name: out, kind: teleport}],
}`), 0o600))

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"pipeline", "check", good}, &out, &errOut), errOut.String())
	assert.Contains(t, out.String(), "ok (good)")

	out.Reset()
	assert.Equal(t, 0, run([]string{"pipeline", "fmt", good}, &out, &errOut))
	assert.Contains(t, out.String(), "pipeline good")
	assert.Contains(t, out.String(), `kind: "sample"`)

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"pipeline", "check", good, unknown}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown sink kind")

	assert.Equal(t, 2, run([]string{"pipeline", "lint", good}, &out, &errOut))
	assert.Equal(t, 2, run([]string{"pipeline"}, &out, &errOut))
}
