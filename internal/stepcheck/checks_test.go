package stepcheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileExists(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "Dockerfile", "FROM alpine\n")

	ok, err := FileExists(path)(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = FileExists(filepath.Join(t.TempDir(), "missing"))(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileContains(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "nginx.conf", "server {\n  listen 8080;\n}\n")

	check, err := FileContains(path, `listen\s+8080`)
	require.NoError(t, err)
	ok, err := check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	check, err = FileContains(path, `listen\s+443`)
	require.NoError(t, err)
	ok, err = check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = FileContains(path, `(`)
	assert.Error(t, err)
}

func TestCommandSucceeds(t *testing.T) {
	ctx := context.Background()

	ok, err := CommandSucceeds("exit 0")(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CommandSucceeds("exit 3")(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyntaxValid(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"ok.yaml", "a: 1\nb: [x, y]\n", true},
		{"bad.yml", "a: [1, 2\n", false},
		{"ok.json", `{"a": 1}`, true},
		{"bad.json", `{"a": }`, false},
		{"ok.toml", "a = 1\n[b]\nc = \"x\"\n", true},
		{"bad.toml", "a = \n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := SyntaxValid(writeFile(t, tt.name, tt.body))(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	_, err := SyntaxValid(writeFile(t, "x.ini", "a=1"))(ctx)
	assert.Error(t, err)
}
