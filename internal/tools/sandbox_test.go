package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSandboxAllowsWithinPrefix(t *testing.T) {
	dir := t.TempDir()
	s := NewSandbox(true, []string{dir})
	require.True(t, s.IsAllowed(filepath.Join(dir, "sub", "file.txt")))
}

func TestSandboxRejectsOutsidePrefix(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	s := NewSandbox(true, []string{dir})
	require.False(t, s.IsAllowed(filepath.Join(other, "file.txt")))
}

func TestSandboxDisabledAllowsEverything(t *testing.T) {
	s := NewSandbox(false, nil)
	require.True(t, s.IsAllowed("/etc/passwd"))
}

func TestSandboxExpandSession(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	s := NewSandbox(true, []string{dir})
	require.False(t, s.IsAllowed(filepath.Join(other, "file.txt")))

	require.NoError(t, s.ExpandSession(other))
	require.True(t, s.IsAllowed(filepath.Join(other, "file.txt")))
}

func TestSandboxResolvesSymlinks(t *testing.T) {
	real := t.TempDir()
	linkDir := filepath.Join(os.TempDir(), "lace-sandbox-link-test")
	_ = os.Remove(linkDir)
	require.NoError(t, os.Symlink(real, linkDir))
	defer os.Remove(linkDir)

	s := NewSandbox(true, []string{real})
	require.True(t, s.IsAllowed(filepath.Join(linkDir, "file.txt")))
}
