package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surogate/surogate-agent/pkg/config"
)

func TestNewRegistryFromConfig(t *testing.T) {
	registry, err := NewRegistryFromConfig(config.SkillsConfig{
		SystemDir: "/srv/builtin",
		Dirs:      []string{"/srv/team"},
		UserDir:   "/srv/user",
	})
	require.NoError(t, err)
	assert.Equal(t, []Root{
		{Path: "/srv/builtin", System: true},
		{Path: "/srv/team"},
		{Path: "/srv/user"},
	}, registry.Roots())
}
