package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBuildSettings(t *testing.T) {
	info := Info{CommitHash: "dev", BuildTime: "unknown", Version: "dev"}
	applyBuildSettings(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	})

	assert.Equal(t, "0123456789abcdef", info.CommitHash)
	assert.Equal(t, "0123456", info.Short())
	assert.Equal(t, "2024-05-01T10:00:00Z", info.BuildTime)
	assert.Equal(t, "ixbulk dev (commit 0123456, built 2024-05-01T10:00:00Z, modified)", info.String())
}

func TestLdflagsWinOverBuildSettings(t *testing.T) {
	info := Info{CommitHash: "abc1234def", BuildTime: "2024-01-01", Version: "v1.2.0"}
	applyBuildSettings(&info, []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffff"}})

	assert.Equal(t, "abc1234def", info.CommitHash)
	assert.Equal(t, "ixbulk v1.2.0 (commit abc1234, built 2024-01-01)", info.String())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
