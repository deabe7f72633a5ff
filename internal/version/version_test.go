package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	t.Helper()
	v, r, d := Version, Revision, BuildDate
	t.Cleanup(func() { Version, Revision, BuildDate = v, r, d })
}

func TestVersionStrings(t *testing.T) {
	assert.Equal(t, "mirrorctl", AppName)
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, BuildDate)

	assert.Equal(t, Version+" ("+Revision+")", Short())

	detailed := Detailed()
	assert.True(t, strings.HasPrefix(detailed, Short()[:len(Short())-1]+"; "))
	assert.Contains(t, detailed, "/")
	assert.True(t, strings.HasPrefix(DetailedWithApp(), "mirrorctl "+Version))
}

func TestBuildSettingsFillsDefaults(t *testing.T) {
	restore(t)
	Version, Revision, BuildDate = devVersion, devRevision, ""

	buildSettings("v1.4.0", map[string]string{
		"vcs.revision": "abcdef1234567890",
		"vcs.modified": "true",
		"vcs.time":     "2026-03-01T09:00:00Z",
	})

	assert.Equal(t, "1.4.0", Version)
	assert.Equal(t, "abcdef123456-dirty", Revision)
	assert.Equal(t, "2026-03-01T09:00:00Z", BuildDate)
}

func TestBuildSettingsKeepsLdflags(t *testing.T) {
	restore(t)
	Version, Revision, BuildDate = "2.0.0", "deadbeef", "from-ldflags"

	buildSettings("v9.9.9", map[string]string{"vcs.revision": "abcdef", "vcs.time": "2026-03-01T09:00:00Z"})

	assert.Equal(t, "2.0.0", Version)
	assert.Equal(t, "deadbeef", Revision)
	assert.Equal(t, "from-ldflags", BuildDate)
}

func TestBuildSettingsDevelModule(t *testing.T) {
	restore(t)
	Version, Revision, BuildDate = devVersion, devRevision, ""

	buildSettings("(devel)", nil)

	assert.Equal(t, devVersion, Version)
	assert.Equal(t, devRevision, Revision)
	assert.Empty(t, BuildDate)
}
