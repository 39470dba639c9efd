package xdg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXDGDirs(t *testing.T) {
	t.Setenv("HOME", "/home/judge")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "/var/cache")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	x := NewXDGDirs()
	assert.Equal(t, "/home/judge/.config/runner", x.AppConfigDir("runner"))
	assert.Equal(t, "/var/cache/runner", x.AppCacheDir("runner"))
	assert.Equal(t, "/run/user/1000/runner", x.AppRuntimeDir("runner"))
}
