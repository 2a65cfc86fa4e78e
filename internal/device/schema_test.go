// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator(map[string][]byte{
		"camera": []byte(cameraSchema),
		"mic":    []byte(`{"type": "object", "properties": {"gain": {"type": "number", "maximum": 1.0}}}`),
	})
	require.NoError(t, err)

	assert.NoError(t, v.ValidateSettings("camera", map[string]any{"fps": 30}))
	assert.NoError(t, v.ValidateSettings("camera", map[string]any{"fps": int64(60), "resolution": "720p"}))
	assert.Error(t, v.ValidateSettings("camera", map[string]any{"fps": 61}))
	assert.Error(t, v.ValidateSettings("camera", nil), "fps is required")

	assert.NoError(t, v.ValidateSettings("mic", map[string]any{"gain": 0.5}))
	assert.Error(t, v.ValidateSettings("mic", map[string]any{"gain": 2}))

	assert.NoError(t, v.ValidateSettings("unknown", map[string]any{"anything": true}))
	assert.ElementsMatch(t, []string{"camera", "mic"}, v.Types())
}

func TestNewSchemaValidator_RejectsBrokenSchema(t *testing.T) {
	_, err := NewSchemaValidator(map[string][]byte{"camera": []byte("type: [unclosed")})
	assert.Error(t, err)

	_, err = NewSchemaValidator(map[string][]byte{"camera": []byte(`{"type": "integer", "minimum": "low"}`)})
	assert.Error(t, err)
}

func TestLoadSchemaDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "camera.yaml"), []byte(cameraSchema), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	v, err := LoadSchemaDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"camera"}, v.Types())
	assert.Error(t, v.ValidateSettings("camera", map[string]any{"fps": 0}))
}
