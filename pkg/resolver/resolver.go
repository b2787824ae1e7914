// Package resolver answers, at the start of a session, which skill sources a
// role may read, which skills it may use and where its files live.
package resolver

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/surogate/surogate-agent/pkg/config"
	"github.com/surogate/surogate-agent/pkg/logger"
	"github.com/surogate/surogate-agent/pkg/roles"
	"github.com/surogate/surogate-agent/pkg/session"
	"github.com/surogate/surogate-agent/pkg/skills"
	"github.com/surogate/surogate-agent/pkg/telemetry"
	"github.com/surogate/surogate-agent/pkg/workspace"
)

// Resolution is everything an agent runtime needs for one session
type Resolution struct {
	Role      roles.Role               `json:"role"`
	SessionID string                   `json:"session_id,omitempty"`
	Sources   []string                 `json:"sources"`
	Skills    map[string]*skills.Skill `json:"-"`
	// WorkspaceDir is where the agent reads and writes user files. It is not
	// created by Resolve.
	WorkspaceDir string `json:"workspace_dir"`
	ShellExecute bool   `json:"shell_execute"`
}

// SkillNames returns the resolved skill names, sorted
func (r *Resolution) SkillNames() []string {
	return skills.SortedNames(r.Skills)
}

// Resolver combines a skill registry with the developer and session
// workspaces
type Resolver struct {
	registry     *skills.Registry
	developer    *workspace.Manager
	sessions     *session.Manager
	allowed      []string
	enabled      bool
	allowExecute bool
}

// Option configures a Resolver
type Option func(*Resolver)

// WithAllowlist restricts the resolved skills to names matching the patterns
func WithAllowlist(patterns []string) Option {
	return func(r *Resolver) {
		r.allowed = patterns
	}
}

// WithSkillsEnabled turns skill resolution on or off
func WithSkillsEnabled(enabled bool) Option {
	return func(r *Resolver) {
		r.enabled = enabled
	}
}

// WithAllowExecute grants shell execution to every role
func WithAllowExecute(allow bool) Option {
	return func(r *Resolver) {
		r.allowExecute = allow
	}
}

// New creates a resolver
func New(registry *skills.Registry, developer *workspace.Manager, sessions *session.Manager, opts ...Option) *Resolver {
	r := &Resolver{
		registry:  registry,
		developer: developer,
		sessions:  sessions,
		enabled:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig creates a resolver and its collaborators from configuration
func NewFromConfig(cfg config.Config) (*Resolver, error) {
	registry, err := skills.NewRegistryFromConfig(cfg.Skills)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create skill registry")
	}
	developer, err := workspace.NewDeveloper(cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(cfg.SessionsDir)
	if err != nil {
		return nil, err
	}
	return New(registry, developer, sessions,
		WithAllowlist(cfg.Skills.Allowed),
		WithSkillsEnabled(cfg.Skills.Enabled && !cfg.NoSkills),
		WithAllowExecute(cfg.AllowExecute),
	), nil
}

// Registry returns the skill registry
func (r *Resolver) Registry() *skills.Registry {
	return r.registry
}

// Developer returns the developer workspace manager
func (r *Resolver) Developer() *workspace.Manager {
	return r.developer
}

// Sessions returns the session manager
func (r *Resolver) Sessions() *session.Manager {
	return r.sessions
}

// Resolve builds a fresh registry snapshot and resolves it for the role
// context. Consumers without a session id get a newly generated one.
func (r *Resolver) Resolve(ctx context.Context, rc roles.Context) (*Resolution, error) {
	ctx, span := telemetry.Start(ctx, "resolver.resolve", attribute.String("role", rc.Role.String()))
	defer span.End()

	res := &Resolution{
		Role:    rc.Role,
		Sources: r.registry.VisibleSources(rc.Role),
		Skills:  map[string]*skills.Skill{},
	}

	if r.enabled {
		snap := r.registry.Build(ctx)
		res.Skills = skills.FilterByAllowlist(snap.ForRole(rc.Role), r.allowed)
	}

	if rc.IsAuthor() {
		res.WorkspaceDir = r.developer.Root()
	} else {
		s, err := r.sessions.ResumeOrCreate(rc.SessionID)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, errors.Wrap(err, "failed to resolve session")
		}
		res.SessionID = s.ID
		res.WorkspaceDir = s.WorkspaceDir
	}

	res.ShellExecute = r.shellExecute(rc.Role, res.Skills)

	logger.G(ctx).WithFields(rc.Fields()).WithFields(map[string]any{
		"session_id":    res.SessionID,
		"skills":        len(res.Skills),
		"sources":       len(res.Sources),
		"shell_execute": res.ShellExecute,
	}).Debug("resolved session")
	return res, nil
}

// shellExecute decides whether the runtime may run shell commands. Authors
// need the global switch; consumers also get it when a visible skill declares
// shell-execute.
func (r *Resolver) shellExecute(role roles.Role, visible map[string]*skills.Skill) bool {
	if r.allowExecute {
		return true
	}
	if role == roles.Author {
		return false
	}
	for _, s := range visible {
		if s.HasCapability(skills.CapabilityShellExecute) {
			return true
		}
	}
	return false
}
