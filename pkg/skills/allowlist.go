package skills

import (
	"github.com/gobwas/glob"
)

// FilterByAllowlist filters skills by an allowlist of names or glob patterns
// such as "data-*". If the allowlist is empty, all skills are returned.
// A pattern that does not compile is matched literally.
func FilterByAllowlist(skills map[string]*Skill, allowed []string) map[string]*Skill {
	if len(allowed) == 0 {
		return skills
	}

	exact := make(map[string]bool)
	var patterns []glob.Glob
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			exact[pattern] = true
			continue
		}
		patterns = append(patterns, g)
	}

	filtered := make(map[string]*Skill)
	for name, skill := range skills {
		if exact[name] {
			filtered[name] = skill
			continue
		}
		for _, g := range patterns {
			if g.Match(name) {
				filtered[name] = skill
				break
			}
		}
	}
	return filtered
}
