// Package skills provides discovery, self-healing parsing and role-aware
// aggregation of agent skills. Skills are packaged as directories containing a
// SKILL.md file with YAML frontmatter describing the skill's purpose,
// followed by free-form instructions for the model.
package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/surogate/surogate-agent/pkg/roles"
)

const (
	// SkillFileName is the definition file expected inside every skill directory
	SkillFileName = "SKILL.md"
	// DefaultVersion is used when the frontmatter carries no version
	DefaultVersion = "0.1.0"
	// MaxDescriptionLength bounds the description, longer values are truncated
	MaxDescriptionLength = 1024
)

// Skill represents a parsed skill definition
type Skill struct {
	Name            string          // Unique name from frontmatter
	Description     string          // Brief description for model decision-making
	Version         string          // Informational only
	RoleRestriction RoleRestriction // Which roles may see the skill
	Capabilities    []Capability    // Sorted, deduplicated
	Content         string          // Body of SKILL.md (instructions, not frontmatter)
	Directory       string          // Full path to the skill directory, set by the loader

	WasRepaired bool     // The backing file needed normalization
	Repairs     []Repair // Repairs applied, in order
	Warnings    []string // Non-fatal problems found while parsing

	// Extra holds frontmatter keys that are not part of Metadata so that a
	// re-serialized skill keeps them.
	Extra map[string]any
}

// Metadata represents the YAML frontmatter in SKILL.md files
type Metadata struct {
	Name            string   `yaml:"name" json:"name" mapstructure:"name" jsonschema:"required,description=Kebab-case identifier unique across skill roots"`
	Description     string   `yaml:"description" json:"description" mapstructure:"description" jsonschema:"required,maxLength=1024,description=What the skill does and when to use it"`
	Version         string   `yaml:"version,omitempty" json:"version,omitempty" mapstructure:"version" jsonschema:"description=Informational version string,default=0.1.0"`
	RoleRestriction string   `yaml:"role-restriction,omitempty" json:"role-restriction,omitempty" mapstructure:"role-restriction" jsonschema:"enum=developer,enum=user,description=Set to developer to hide the skill from consumers"`
	AllowedTools    []string `yaml:"allowed-tools,omitempty" json:"allowed-tools,omitempty" mapstructure:"allowed-tools" jsonschema:"description=Capabilities the skill needs (space-separated string or list)"`
}

// IsAuthorOnly reports whether the skill is hidden from consumers
func (s *Skill) IsAuthorOnly() bool {
	return s.RoleRestriction == RestrictionAuthorOnly
}

// VisibleTo reports whether the skill may be exposed to the given role
func (s *Skill) VisibleTo(role roles.Role) bool {
	return s.RoleRestriction.Allows(role)
}

// HasCapability reports whether the skill declares the capability
func (s *Skill) HasCapability(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// DefinitionPath returns the path of the SKILL.md backing the skill
func (s *Skill) DefinitionPath() string {
	return filepath.Join(s.Directory, SkillFileName)
}

// HelperFiles returns the names of all regular files in the skill directory
// other than SKILL.md, sorted by name.
func (s *Skill) HelperFiles() ([]string, error) {
	if s.Directory == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read skill directory %s", s.Directory)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == SkillFileName {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// frontmatter is the canonical on-disk layout, field order is the emitted order
type frontmatter struct {
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	Version         string         `yaml:"version,omitempty"`
	RoleRestriction string         `yaml:"role-restriction,omitempty"`
	AllowedTools    string         `yaml:"allowed-tools,omitempty"`
	Extra           map[string]any `yaml:",inline"`
}

// Marshal serializes the skill into SKILL.md form. The output always uses the
// same delimiter convention that Normalize expects, so it normalizes without
// any repair.
func (s *Skill) Marshal() ([]byte, error) {
	fm := frontmatter{
		Name:         s.Name,
		Description:  s.Description,
		Version:      s.Version,
		AllowedTools: strings.Join(capabilityStrings(s.Capabilities), " "),
		Extra:        s.Extra,
	}
	if s.IsAuthorOnly() {
		fm.RoleRestriction = roleRestrictionOnDisk
	}

	out, err := yaml.Marshal(fm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal skill frontmatter")
	}

	var b strings.Builder
	b.WriteString(delimiter + "\n")
	b.Write(out)
	b.WriteString(delimiter + "\n")
	if body := strings.Trim(s.Content, "\n"); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}
