package skills

import (
	"github.com/surogate/surogate-agent/pkg/config"
)

// RegistryOptions translates the skills configuration into registry options.
// The user root always comes last so it shadows every other root.
func RegistryOptions(cfg config.SkillsConfig) []Option {
	return []Option{
		WithSystemRoot(cfg.SystemDir),
		WithSkillDirs(cfg.Dirs...),
		WithSkillDirs(cfg.UserDir),
	}
}

// NewRegistryFromConfig creates a registry for the configured roots
func NewRegistryFromConfig(cfg config.SkillsConfig, opts ...Option) (*Registry, error) {
	return NewRegistry(append(RegistryOptions(cfg), opts...)...)
}
