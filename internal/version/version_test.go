package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(v, sha, bt string) { Version, GitSHA, BuildTime = v, sha, bt }(Version, GitSHA, BuildTime)

	assert.Equal(t, "dev (unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "0.3.1", "abc1234", "2026-10-01T12:00:00Z"
	assert.Equal(t, "0.3.1 (abc1234, built 2026-10-01T12:00:00Z)", String())
}
