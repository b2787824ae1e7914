package skills

import (
	"sort"
	"strings"

	"github.com/surogate/surogate-agent/pkg/roles"
)

// Capability is a tool permission a skill may declare in allowed-tools
type Capability string

const (
	CapabilityFileRead     Capability = "file-read"
	CapabilityFileWrite    Capability = "file-write"
	CapabilityFileEdit     Capability = "file-edit"
	CapabilityFileList     Capability = "file-list"
	CapabilityFileSearch   Capability = "file-search"
	CapabilityShellExecute Capability = "shell-execute"
	CapabilityWebFetch     Capability = "web-fetch"
)

// capabilityTokens maps every accepted spelling to its capability. Tool names
// used by agent runtimes are accepted next to the canonical tokens.
var capabilityTokens = map[string]Capability{
	"file-read":     CapabilityFileRead,
	"read_file":     CapabilityFileRead,
	"read":          CapabilityFileRead,
	"file-write":    CapabilityFileWrite,
	"write_file":    CapabilityFileWrite,
	"write":         CapabilityFileWrite,
	"file-edit":     CapabilityFileEdit,
	"edit_file":     CapabilityFileEdit,
	"edit":          CapabilityFileEdit,
	"file-list":     CapabilityFileList,
	"ls":            CapabilityFileList,
	"list_files":    CapabilityFileList,
	"file-search":   CapabilityFileSearch,
	"glob":          CapabilityFileSearch,
	"grep":          CapabilityFileSearch,
	"shell-execute": CapabilityShellExecute,
	"execute":       CapabilityShellExecute,
	"bash":          CapabilityShellExecute,
	"shell":         CapabilityShellExecute,
	"web-fetch":     CapabilityWebFetch,
	"fetch":         CapabilityWebFetch,
	"web_fetch":     CapabilityWebFetch,
}

// ParseCapability resolves a token to a capability
func ParseCapability(token string) (Capability, bool) {
	c, ok := capabilityTokens[strings.ToLower(strings.TrimSpace(token))]
	return c, ok
}

// parseCapabilities turns raw allowed-tools tokens into a sorted set.
// Unknown tokens are returned separately and never granted.
func parseCapabilities(tokens []string) ([]Capability, []string) {
	seen := make(map[Capability]struct{})
	var unknown []string
	for _, token := range tokens {
		if strings.TrimSpace(token) == "" {
			continue
		}
		c, ok := ParseCapability(token)
		if !ok {
			unknown = append(unknown, token)
			continue
		}
		seen[c] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, unknown
	}

	caps := make([]Capability, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps, unknown
}

func capabilityStrings(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// RoleRestriction limits which roles may see a skill
type RoleRestriction string

const (
	// RestrictionNone makes the skill visible to every role
	RestrictionNone RoleRestriction = "none"
	// RestrictionAuthorOnly hides the skill from consumers
	RestrictionAuthorOnly RoleRestriction = "author-only"
)

// roleRestrictionOnDisk is the frontmatter spelling written for author-only
// skills, kept compatible with existing authoring tools.
const roleRestrictionOnDisk = "developer"

// ParseRoleRestriction resolves a role-restriction value. Unknown values
// resolve to RestrictionAuthorOnly with ok=false so that a typo never widens
// access.
func ParseRoleRestriction(s string) (RoleRestriction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null", "all", "any", "user", "consumer":
		return RestrictionNone, true
	case "developer", "author", "author-only", "dev":
		return RestrictionAuthorOnly, true
	default:
		return RestrictionAuthorOnly, false
	}
}

// Allows reports whether the role may see a skill carrying this restriction
func (r RoleRestriction) Allows(role roles.Role) bool {
	if role == roles.Author {
		return true
	}
	return r != RestrictionAuthorOnly
}
