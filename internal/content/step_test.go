package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStep = `
id: nginx-101/step-2
title: Serve on port 8080
description: Reconfigure nginx to listen on 8080.
hints:
  - Look at the listen directive.
  - The config lives in nginx.conf next to this file.
  - "Change it to: listen 8080;"
criteria:
  - id: config-exists
    description: nginx.conf exists
    type: file_exists
    target: nginx.conf
  - id: listens-8080
    description: nginx listens on 8080
    type: file_contains
    target: nginx.conf
    pattern: 'listen\s+8080'
    error_hint: The listen directive still points elsewhere.
  - id: shell-ok
    description: shell works
    type: command_success
    cmd: "true"
checklist:
  - {key: backup-confirmed, label: I copied the original config}
`

func TestParseAndBuild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "step.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleStep), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nginx.conf"), []byte("server { listen 8080; }"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nginx-101/step-2", s.ID)
	assert.Len(t, s.Hints, 3)
	assert.Equal(t, dir, s.Dir)
	require.Len(t, s.Checklist, 1)
	assert.Equal(t, "backup-confirmed", s.Checklist[0].Key)

	criteria, err := s.BuildCriteria()
	require.NoError(t, err)
	require.Len(t, criteria, 3)
	assert.Equal(t, "The listen directive still points elsewhere.", criteria[1].ErrorHint)

	for _, c := range criteria {
		ok, err := c.Check(context.Background())
		require.NoError(t, err, c.ID)
		assert.True(t, ok, c.ID)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"missing id":      "title: x",
		"unknown type":    "id: a\ntitle: x\ncriteria: [{id: c, description: d, type: ping}]",
		"missing target":  "id: a\ntitle: x\ncriteria: [{id: c, description: d, type: file_exists}]",
		"missing pattern": "id: a\ntitle: x\ncriteria: [{id: c, description: d, type: file_contains, target: f}]",
		"missing cmd":     "id: a\ntitle: x\ncriteria: [{id: c, description: d, type: command_success}]",
		"duplicate id":    "id: a\ntitle: x\ncriteria: [{id: c, description: d, type: command_success, cmd: 'true'}, {id: c, description: d, type: command_success, cmd: 'true'}]",
		"blank hint":      "id: a\ntitle: x\nhints: ['']",
		"duplicate item":  "id: a\ntitle: x\nchecklist: [{key: k, label: a}, {key: k, label: b}]",
		"not yaml":        "id: [",
	}
	for name, data := range tests {
		_, err := Parse([]byte(data))
		assert.Error(t, err, name)
	}
}

func TestBuildCriteriaBadPattern(t *testing.T) {
	s, err := Parse([]byte("id: a\ntitle: x\ncriteria: [{id: c, description: d, type: file_contains, target: f, pattern: '('}]"))
	require.NoError(t, err)
	_, err = s.BuildCriteria()
	assert.ErrorContains(t, err, "criterion c")
}

func TestHomeRelativeTargets(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "app.conf"), []byte("port = 8080"), 0o644))

	const def = "id: a\ntitle: x\ncriteria: [{id: c, description: d, type: file_contains, target: ~/app.conf, pattern: 'port = 8080'}]"

	parsed, err := Parse([]byte(def))
	require.NoError(t, err)
	require.Empty(t, parsed.Dir)

	dir := t.TempDir()
	path := filepath.Join(dir, "step.yaml")
	require.NoError(t, os.WriteFile(path, []byte(def), 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)

	for name, s := range map[string]*Step{"parsed": parsed, "loaded": loaded} {
		criteria, err := s.BuildCriteria()
		require.NoError(t, err, name)
		ok, err := criteria[0].Check(context.Background())
		require.NoError(t, err, name)
		assert.True(t, ok, name)
	}
}
