package skills

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/surogate/surogate-agent/pkg/logger"
	"github.com/surogate/surogate-agent/pkg/roles"
	"github.com/surogate/surogate-agent/pkg/telemetry"
)

const (
	// DefaultSystemDir holds the skills shipped with the agent
	DefaultSystemDir = "./skills/builtin"
	// DefaultUserDir holds user-authored skills, which shadow everything else
	DefaultUserDir = "./skills"
)

// Root is one configured skill source directory. System roots hold skills
// shipped with the agent and are hidden from consumers.
type Root struct {
	Path   string
	System bool
}

// Registry composes the scans of an ordered list of roots. Later roots shadow
// earlier ones.
type Registry struct {
	roots    []Root
	fileName string
	rewrite  bool
}

// Option is a function that configures a Registry
type Option func(*Registry) error

// WithSystemRoot prepends the root reserved for system-provided skills
func WithSystemRoot(dir string) Option {
	return func(r *Registry) error {
		if dir == "" {
			return nil
		}
		r.roots = append([]Root{{Path: dir, System: true}}, r.roots...)
		return nil
	}
}

// WithSkillDirs appends non-system roots in the given order
func WithSkillDirs(dirs ...string) Option {
	return func(r *Registry) error {
		for _, dir := range dirs {
			if dir == "" {
				continue
			}
			r.roots = append(r.roots, Root{Path: dir})
		}
		return nil
	}
}

// WithRoots appends fully specified roots in the given order
func WithRoots(roots ...Root) Option {
	return func(r *Registry) error {
		for _, root := range roots {
			if root.Path == "" {
				return errors.New("skill root path must not be empty")
			}
		}
		r.roots = append(r.roots, roots...)
		return nil
	}
}

// WithFileName sets the definition file name looked up in skill directories
func WithFileName(name string) Option {
	return func(r *Registry) error {
		if name == "" {
			return errors.New("skill file name must not be empty")
		}
		r.fileName = name
		return nil
	}
}

// WithReadOnly disables writing repaired definitions back to disk
func WithReadOnly() Option {
	return func(r *Registry) error {
		r.rewrite = false
		return nil
	}
}

// WithDefaultDirs configures the default system and user roots
func WithDefaultDirs() Option {
	return func(r *Registry) error {
		r.roots = []Root{
			{Path: DefaultSystemDir, System: true},
			{Path: DefaultUserDir},
		}
		return nil
	}
}

// NewRegistry creates a registry. Without options the default roots are used.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		fileName: SkillFileName,
		rewrite:  true,
	}

	if len(opts) == 0 {
		opts = []Option{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	roots, err := dedupeRoots(r.roots)
	if err != nil {
		return nil, err
	}
	r.roots = roots
	return r, nil
}

// dedupeRoots resolves root paths and keeps the last occurrence of a path that
// is configured twice. A duplicated path stays a system root if any of its
// occurrences is one.
func dedupeRoots(in []Root) ([]Root, error) {
	system := make(map[string]bool)
	last := make(map[string]int)
	resolved := make([]Root, len(in))
	for i, root := range in {
		abs, err := filepath.Abs(root.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve skill root %s", root.Path)
		}
		resolved[i] = Root{Path: abs, System: root.System}
		system[abs] = system[abs] || root.System
		last[abs] = i
	}

	out := make([]Root, 0, len(last))
	for i, root := range resolved {
		if last[root.Path] != i {
			continue
		}
		root.System = system[root.Path]
		out = append(out, root)
	}
	return out, nil
}

// ReadOnly returns a copy of the registry whose builds never write repaired
// definitions back to disk
func (r *Registry) ReadOnly() *Registry {
	return &Registry{
		roots:    r.Roots(),
		fileName: r.fileName,
	}
}

// Roots returns the configured roots in precedence order, lowest first
func (r *Registry) Roots() []Root {
	return append([]Root(nil), r.roots...)
}

// VisibleSources returns the root directories a runtime serving the role may
// read skill definitions from. Authors see every root; consumers never see
// system roots. It does not touch the filesystem.
func (r *Registry) VisibleSources(role roles.Role) []string {
	sources := make([]string, 0, len(r.roots))
	for _, root := range r.roots {
		if root.System && role != roles.Author {
			continue
		}
		sources = append(sources, root.Path)
	}
	return sources
}

// Build scans every root and merges the results in root order. Each call
// starts from scratch so the snapshot reflects the roots as they are now.
func (r *Registry) Build(ctx context.Context) *Snapshot {
	ctx, span := telemetry.Start(ctx, "skills.registry.build")
	defer span.End()

	snap := &Snapshot{
		roots:   r.Roots(),
		entries: make(map[string]*Entry),
	}

	for _, root := range r.roots {
		loader := NewLoader(root.Path, WithRewrite(r.rewrite), WithDefinitionFileName(r.fileName))
		result, err := loader.Scan(ctx)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("root", root.Path).Warn("failed to scan skill root")
			snap.rootErrors = append(snap.rootErrors, ScanFailure{Directory: root.Path, Err: err})
			continue
		}
		snap.scans = append(snap.scans, result)

		for _, skill := range result.List() {
			snap.add(ctx, root, skill)
		}
	}

	span.SetAttributes(
		attribute.Int("skills.roots", len(r.roots)),
		attribute.Int("skills.count", len(snap.entries)),
	)
	return snap
}

// Candidate is one definition of a skill name together with its root
type Candidate struct {
	Skill *Skill
	Root  Root
}

// Entry is the merged view of one skill name
type Entry struct {
	Name  string
	Skill *Skill
	Root  Root
	// Shadowed holds the definitions replaced by later roots, in discovery order
	Shadowed []Candidate
}

// candidates returns every definition of the name, in root order
func (e *Entry) candidates() []Candidate {
	return append(append([]Candidate(nil), e.Shadowed...), Candidate{Skill: e.Skill, Root: e.Root})
}

// Snapshot is the result of one registry build
type Snapshot struct {
	roots      []Root
	entries    map[string]*Entry
	scans      []*ScanResult
	rootErrors []ScanFailure
}

// add merges a skill into the snapshot. Names shadow across roots only when
// they match exactly; case-fold collisions are resolved inside a single root
// by the loader.
func (s *Snapshot) add(ctx context.Context, root Root, skill *Skill) {
	existing, ok := s.entries[skill.Name]
	if !ok {
		s.entries[skill.Name] = &Entry{Name: skill.Name, Skill: skill, Root: root}
		return
	}

	logger.G(ctx).WithFields(map[string]any{
		"skill":       skill.Name,
		"root":        root.Path,
		"shadowed_in": existing.Root.Path,
	}).Debug("skill shadows an earlier definition")

	existing.Shadowed = append(existing.Shadowed, Candidate{Skill: existing.Skill, Root: existing.Root})
	existing.Skill = skill
	existing.Root = root
}

// Roots returns the roots the snapshot was built from
func (s *Snapshot) Roots() []Root {
	return s.roots
}

// Scans returns the per-root scan results in root order, skipping roots that
// could not be read
func (s *Snapshot) Scans() []*ScanResult {
	return s.scans
}

// Get returns the entry for a skill name. An exact match wins; otherwise the
// first entry in name order that matches case-insensitively is returned.
func (s *Snapshot) Get(name string) (*Entry, bool) {
	if e, ok := s.entries[name]; ok {
		return e, true
	}
	for _, e := range s.Entries() {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return nil, false
}

// Names returns the winning skill names, sorted
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Entries returns every entry sorted by name
func (s *Snapshot) Entries() []*Entry {
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Skills returns the winning skill of every entry keyed by name
func (s *Snapshot) Skills() map[string]*Skill {
	out := make(map[string]*Skill, len(s.entries))
	for _, e := range s.entries {
		out[e.Name] = e.Skill
	}
	return out
}

// ForRole returns the skills a role may use keyed by name. Authors get every
// winner. Consumers get, per name, the last definition outside system roots,
// and only if it is not author-only.
func (s *Snapshot) ForRole(role roles.Role) map[string]*Skill {
	out := make(map[string]*Skill, len(s.entries))
	for _, e := range s.entries {
		if role == roles.Author {
			out[e.Name] = e.Skill
			continue
		}

		var visible *Skill
		for _, c := range e.candidates() {
			if !c.Root.System {
				visible = c.Skill
			}
		}
		if visible == nil || !visible.VisibleTo(role) {
			continue
		}
		out[visible.Name] = visible
	}
	return out
}

// Failures returns every skill directory excluded from the snapshot, followed
// by roots that could not be read
func (s *Snapshot) Failures() []ScanFailure {
	var failures []ScanFailure
	for _, scan := range s.scans {
		failures = append(failures, scan.Failures...)
	}
	return append(failures, s.rootErrors...)
}

// Err aggregates all failures, or returns nil when every skill loaded
func (s *Snapshot) Err() error {
	var result *multierror.Error
	for _, f := range s.Failures() {
		result = multierror.Append(result, errors.Wrapf(f.Err, "skill %s", f.Directory))
	}
	return result.ErrorOrNil()
}

// SortedNames returns the keys of a skill map, sorted
func SortedNames(skills map[string]*Skill) []string {
	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
