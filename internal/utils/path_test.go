package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cwd := t.TempDir()
	t.Chdir(cwd)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", wantErr: true},
		{name: "home", input: "~", want: home},
		{name: "under home", input: "~/logs/../app.log", want: filepath.Join(home, "app.log")},
		{name: "relative", input: "./proj", want: filepath.Join(cwd, "proj")},
		{name: "absolute", input: "/srv//data/", want: "/srv/data"},
		{name: "tilde inside name", input: "~proj", want: filepath.Join(cwd, "~proj")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "mirrorctl.log")

	require.NoError(t, EnsureParent(path))
	assert.True(t, DirExists(filepath.Dir(path)))
	assert.False(t, FileExists(path))

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.True(t, FileExists(path))
	assert.False(t, DirExists(path))
	require.NoError(t, EnsureParent(path), "existing parent is fine")
}
