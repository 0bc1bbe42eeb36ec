package util

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))

	assert.True(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}

func TestGetLocalIPReturnsIPv4(t *testing.T) {
	ip, err := GetLocalIP()
	require.NoError(t, err)
	require.NotNil(t, net.ParseIP(ip).To4(), "expected an IPv4 address, got %q", ip)
}

func TestGetSystemInfoHasCoreFields(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)
}
