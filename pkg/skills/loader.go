package skills

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"go.opentelemetry.io/otel/attribute"

	"github.com/surogate/surogate-agent/pkg/logger"
	"github.com/surogate/surogate-agent/pkg/telemetry"
)

// errFileChanged aborts a rewrite when SKILL.md changed after it was read
var errFileChanged = errors.New("skill file changed since it was read")

// Loader scans a single root directory for skill subdirectories
type Loader struct {
	root         string
	fileName     string
	rewrite      bool
	rewriteTries uint
	rewriteDelay time.Duration
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithRewrite controls whether repaired definition files are written back.
// It is enabled by default; dry runs disable it.
func WithRewrite(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.rewrite = enabled
	}
}

// WithDefinitionFileName overrides the definition file looked up in every
// skill directory
func WithDefinitionFileName(name string) LoaderOption {
	return func(l *Loader) {
		if name != "" {
			l.fileName = name
		}
	}
}

// NewLoader creates a loader for the given root
func NewLoader(root string, opts ...LoaderOption) *Loader {
	l := &Loader{
		root:         root,
		fileName:     SkillFileName,
		rewrite:      true,
		rewriteTries: 3,
		rewriteDelay: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the directory scanned by the loader
func (l *Loader) Root() string {
	return l.root
}

// ScanFailure records a skill directory that was excluded from a scan, or a
// repaired file that could not be written back.
type ScanFailure struct {
	Directory string
	Err       error
}

// Collision records two directories in one root whose skills share a name
// (compared case-insensitively). The later directory in iteration order wins.
type Collision struct {
	Name    string
	Kept    string
	Dropped string
}

// ScanResult is the outcome of scanning one root
type ScanResult struct {
	Root string
	// Missing is set when the root does not exist; it then contributes nothing
	Missing bool

	Skills        map[string]*Skill // keyed by case-folded name
	Order         []string          // case-folded names in discovery order
	Failures      []ScanFailure
	Rewritten     []string // definition files repaired on disk
	RewriteErrors []ScanFailure
	Collisions    []Collision
}

func newScanResult(root string) *ScanResult {
	return &ScanResult{
		Root:   root,
		Skills: make(map[string]*Skill),
	}
}

// Get returns the skill with the given name
func (r *ScanResult) Get(name string) (*Skill, bool) {
	s, ok := r.Skills[foldName(name)]
	return s, ok
}

// List returns the skills in discovery order
func (r *ScanResult) List() []*Skill {
	out := make([]*Skill, 0, len(r.Order))
	for _, key := range r.Order {
		out = append(out, r.Skills[key])
	}
	return out
}

func foldName(name string) string {
	return strings.ToLower(name)
}

// Scan discovers the skills defined directly beneath the root. A missing root
// yields an empty result. Malformed skills are excluded and recorded in
// Failures; only an unreadable root is returned as an error.
func (l *Loader) Scan(ctx context.Context) (*ScanResult, error) {
	ctx, span := telemetry.Start(ctx, "skills.scan")
	defer span.End()

	root, err := filepath.Abs(l.root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve skill root %s", l.root)
	}
	span.SetAttributes(attribute.String("skills.root", root))

	result := newScanResult(root)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			logger.G(ctx).WithField("root", root).Debug("skill root does not exist, skipping")
			result.Missing = true
			return result, nil
		}
		telemetry.RecordError(ctx, err)
		return nil, errors.Wrapf(err, "failed to read skill root %s", root)
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		entryPath := filepath.Join(root, entry.Name())

		// Stat follows symlinked skill directories
		info, err := os.Stat(entryPath)
		if err != nil || !info.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(entryPath, l.fileName)); err != nil {
			if !os.IsNotExist(err) {
				result.Failures = append(result.Failures, ScanFailure{Directory: entryPath, Err: err})
			}
			continue
		}

		skill, outcome, err := l.load(ctx, entryPath)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("skill_dir", entryPath).Warn("skipping skill that could not be loaded")
			result.Failures = append(result.Failures, ScanFailure{Directory: entryPath, Err: err})
			continue
		}
		if outcome.rewritten {
			result.Rewritten = append(result.Rewritten, filepath.Join(entryPath, l.fileName))
		}
		if outcome.rewriteErr != nil {
			result.RewriteErrors = append(result.RewriteErrors, ScanFailure{Directory: entryPath, Err: outcome.rewriteErr})
		}

		key := foldName(skill.Name)
		if existing, ok := result.Skills[key]; ok {
			logger.G(ctx).WithFields(map[string]any{
				"skill":   skill.Name,
				"kept":    entryPath,
				"dropped": existing.Directory,
			}).Warn("two skill directories in one root define the same name")
			result.Collisions = append(result.Collisions, Collision{Name: skill.Name, Kept: entryPath, Dropped: existing.Directory})
		} else {
			result.Order = append(result.Order, key)
		}
		result.Skills[key] = skill
	}

	span.SetAttributes(
		attribute.Int("skills.count", len(result.Skills)),
		attribute.Int("skills.failures", len(result.Failures)),
	)
	logger.G(ctx).WithFields(map[string]any{
		"root":     root,
		"skills":   len(result.Skills),
		"failures": len(result.Failures),
	}).Debug("skill root scanned")
	return result, nil
}

// LoadSkillDir loads the single skill defined in dir, applying the same
// normalization and rewrite rules as Scan.
func (l *Loader) LoadSkillDir(ctx context.Context, dir string) (*Skill, error) {
	skill, _, err := l.load(ctx, dir)
	return skill, err
}

type loadOutcome struct {
	rewritten  bool
	rewriteErr error
}

func (l *Loader) load(ctx context.Context, dir string) (*Skill, loadOutcome, error) {
	var outcome loadOutcome

	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, outcome, errors.Wrapf(err, "failed to resolve skill directory %s", dir)
	}
	path := filepath.Join(dir, l.fileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, outcome, errors.Wrap(err, "failed to read skill file")
	}

	normalized, skill, err := Normalize(raw)
	if err != nil {
		var malformed *MalformedSkillError
		if errors.As(err, &malformed) {
			malformed.Path = path
			return nil, outcome, malformed
		}
		return nil, outcome, errors.Wrapf(err, "failed to parse %s", path)
	}
	skill.Directory = dir

	log := logger.G(ctx).WithField("skill", skill.Name)
	for _, warning := range skill.Warnings {
		log.WithField("path", path).Warn(warning)
	}

	if skill.WasRepaired {
		log.WithField("repairs", skill.Repairs).Info("repaired malformed skill file")
		if l.rewrite {
			if err := l.persist(ctx, path, raw, normalized); err != nil {
				if errors.Is(err, errFileChanged) {
					log.WithField("path", path).Debug("skill file changed during load, leaving it untouched")
				} else {
					log.WithError(err).WithField("path", path).Warn("failed to write repaired skill file")
					outcome.rewriteErr = err
				}
			} else {
				outcome.rewritten = true
			}
		}
	}

	return skill, outcome, nil
}

// persist writes the repaired content back under an advisory file lock, and
// only if the file still holds the bytes that were normalized.
func (l *Loader) persist(ctx context.Context, path string, raw, normalized []byte) error {
	return retry.Do(
		func() error {
			return lockedfile.Transform(path, func(current []byte) ([]byte, error) {
				if !bytes.Equal(current, raw) {
					return nil, errFileChanged
				}
				return normalized, nil
			})
		},
		retry.Context(ctx),
		retry.Attempts(l.rewriteTries),
		retry.Delay(l.rewriteDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, errFileChanged) && !os.IsPermission(err)
		}),
	)
}
