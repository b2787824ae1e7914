// Package workspace manages isolated, lazily created directories beneath a
// single owned root. One Manager serves the developer scratch area, keyed by
// skill name, and another serves user sessions, keyed by session id.
//
// Every path-accepting operation validates its key and file name before
// touching the filesystem, so nothing can resolve outside root/key.
//
// The Manager takes no locks. Callers must not drive the same key from two
// concurrent writers; a session or a skill being authored has one writer at a
// time.
package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/surogate/surogate-agent/pkg/logger"
	"github.com/surogate/surogate-agent/pkg/telemetry"
)

// Kind names the domain a workspace root belongs to
type Kind string

const (
	// KindDeveloper workspaces are keyed by skill name
	KindDeveloper Kind = "developer"
	// KindSession workspaces are keyed by session id
	KindSession Kind = "session"
)

var (
	// ErrNotFound is returned when a workspace or file does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when conflict protection finds an existing file
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidPath is returned for keys and names that would escape root/key
	ErrInvalidPath = errors.New("invalid path")
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FileInfo describes one file in a workspace
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size_bytes"`
	Modified time.Time `json:"modified"`
}

// Manager owns one workspace root
type Manager struct {
	root string
	kind Kind
}

// New creates a manager for root. The root itself is created on first write.
func New(root string, kind Kind) (*Manager, error) {
	if root == "" {
		return nil, errors.New("workspace root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve workspace root %s", root)
	}
	return &Manager{root: abs, kind: kind}, nil
}

// NewDeveloper creates a manager for the developer scratch area
func NewDeveloper(root string) (*Manager, error) {
	return New(root, KindDeveloper)
}

// NewSession creates a manager for user session workspaces
func NewSession(root string) (*Manager, error) {
	return New(root, KindSession)
}

// Root returns the absolute root directory
func (m *Manager) Root() string {
	return m.root
}

// Kind returns the domain of the root
func (m *Manager) Kind() Kind {
	return m.kind
}

// validComponent reports whether s is a single, visible path component
func validComponent(s string) bool {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	if strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return false
	}
	return !filepath.IsAbs(s) && filepath.VolumeName(s) == ""
}

func invalidKey(key string) error {
	return errors.Wrapf(ErrInvalidPath, "invalid workspace key %q", key)
}

func invalidName(name string) error {
	return errors.Wrapf(ErrInvalidPath, "invalid file name %q", name)
}

// Path returns root/key without creating it
func (m *Manager) Path(key string) (string, error) {
	if !validComponent(key) {
		return "", invalidKey(key)
	}
	return filepath.Join(m.root, key), nil
}

// FilePath returns the path of name inside root/key without touching the
// filesystem
func (m *Manager) FilePath(key, name string) (string, error) {
	dir, err := m.Path(key)
	if err != nil {
		return "", err
	}
	if !validComponent(name) {
		return "", invalidName(name)
	}
	path := filepath.Join(dir, name)
	if filepath.Dir(path) != dir {
		return "", invalidName(name)
	}
	return path, nil
}

func (m *Manager) logPathRejected(ctx context.Context, key, name string, err error) {
	logger.G(ctx).WithFields(map[string]any{
		"workspace": string(m.kind),
		"key":       key,
		"file":      name,
	}).WithError(err).Warn("rejected workspace path")
}

// Ensure returns root/key, creating it if absent
func (m *Manager) Ensure(ctx context.Context, key string) (string, error) {
	dir, err := m.Path(key)
	if err != nil {
		m.logPathRejected(ctx, key, "", err)
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", errors.Wrapf(err, "failed to create workspace %s", key)
	}
	return dir, nil
}

// Exists reports whether root/key is present
func (m *Manager) Exists(key string) (bool, error) {
	dir, err := m.Path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat workspace %s", key)
	}
	return info.IsDir(), nil
}

// ListFiles returns the regular files in root/key sorted by name. An absent
// workspace has no files.
func (m *Manager) ListFiles(ctx context.Context, key string) ([]FileInfo, error) {
	dir, err := m.Path(key)
	if err != nil {
		m.logPathRejected(ctx, key, "", err)
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []FileInfo{}, nil
		}
		return nil, errors.Wrapf(err, "failed to list workspace %s", key)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	return files, nil
}

type writeOptions struct {
	conflictProtection bool
	perm               os.FileMode
}

// WriteOption configures WriteFile
type WriteOption func(*writeOptions)

// WithConflictProtection makes WriteFile fail with ErrAlreadyExists instead of
// overwriting an existing file
func WithConflictProtection() WriteOption {
	return func(o *writeOptions) {
		o.conflictProtection = true
	}
}

// WithPerm sets the permissions of the written file
func WithPerm(perm os.FileMode) WriteOption {
	return func(o *writeOptions) {
		o.perm = perm
	}
}

// WriteFile writes data to name inside root/key, creating the workspace if
// needed, and returns the file path. Readers never observe a partially
// written file.
func (m *Manager) WriteFile(ctx context.Context, key, name string, data []byte, opts ...WriteOption) (string, error) {
	o := writeOptions{perm: filePerm}
	for _, opt := range opts {
		opt(&o)
	}

	path, err := m.FilePath(key, name)
	if err != nil {
		m.logPathRejected(ctx, key, name, err)
		return "", err
	}

	ctx, span := telemetry.Start(ctx, "workspace.write_file")
	defer span.End()
	span.SetAttributes(
		attribute.String("workspace.kind", string(m.kind)),
		attribute.String("workspace.key", key),
		attribute.Int("workspace.bytes", len(data)),
	)

	dir, err := m.Ensure(ctx, key)
	if err != nil {
		return "", err
	}

	if o.conflictProtection {
		err = writeExclusive(path, data, o.perm)
	} else {
		err = writeAtomic(dir, path, data, o.perm)
	}
	if err != nil {
		if os.IsExist(err) {
			return "", errors.Wrapf(ErrAlreadyExists, "file %s in workspace %s", name, key)
		}
		telemetry.RecordError(ctx, err)
		return "", errors.Wrapf(err, "failed to write %s in workspace %s", name, key)
	}

	logger.G(ctx).WithFields(map[string]any{
		"workspace": string(m.kind),
		"key":       key,
		"file":      name,
		"bytes":     len(data),
	}).Debug("wrote workspace file")
	return path, nil
}

// CopyFile copies the file at source into root/key, keeping its permission
// bits, and returns the stored path. name defaults to the base name of source.
func (m *Manager) CopyFile(ctx context.Context, key, source, name string, opts ...WriteOption) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", source)
	}
	if !info.Mode().IsRegular() {
		return "", errors.Errorf("%s is not a regular file", source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", source)
	}
	if name == "" {
		name = filepath.Base(source)
	}
	opts = append([]WriteOption{WithPerm(info.Mode().Perm())}, opts...)
	return m.WriteFile(ctx, key, name, data, opts...)
}

// writeExclusive creates path and fails if it already exists. The content is
// staged in a temp file and hard-linked into place so the name never points at
// a partial file.
func writeExclusive(path string, data []byte, perm os.FileMode) error {
	tmp, err := stage(filepath.Dir(path), data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return os.Link(tmp, path)
}

func writeAtomic(dir, path string, data []byte, perm os.FileMode) error {
	tmp, err := stage(dir, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// stage writes data to a hidden temp file in dir and returns its path
func stage(dir string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, ".write-*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return "", err
	}

	success = true
	return tmpPath, nil
}

// resolveInside follows symlinks in path and fails with ErrInvalidPath when
// the target leaves the workspace directory
func resolveInside(key, name, path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	if filepath.Dir(resolved) != dir {
		return "", errors.Wrapf(ErrInvalidPath, "file %s in workspace %s resolves outside the workspace", name, key)
	}
	return resolved, nil
}

// ReadFile returns the content of name inside root/key. A symlink is followed
// only when its target is a file in the same workspace.
func (m *Manager) ReadFile(ctx context.Context, key, name string) ([]byte, error) {
	path, err := m.FilePath(key, name)
	if err != nil {
		m.logPathRejected(ctx, key, name, err)
		return nil, err
	}

	path, err = resolveInside(key, name, path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, errors.Wrapf(ErrNotFound, "file %s in workspace %s", name, key)
		case errors.Is(err, ErrInvalidPath):
			m.logPathRejected(ctx, key, name, err)
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to resolve %s in workspace %s", name, key)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "file %s in workspace %s", name, key)
		}
		return nil, errors.Wrapf(err, "failed to stat %s in workspace %s", name, key)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Wrapf(ErrNotFound, "file %s in workspace %s", name, key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s in workspace %s", name, key)
	}
	return data, nil
}

// DeleteFile removes name from root/key. Deleting from a workspace that was
// never created is a no-op; a missing file in an existing workspace is
// reported as ErrNotFound.
func (m *Manager) DeleteFile(ctx context.Context, key, name string) error {
	path, err := m.FilePath(key, name)
	if err != nil {
		m.logPathRejected(ctx, key, name, err)
		return err
	}

	exists, err := m.Exists(key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "file %s in workspace %s", name, key)
		}
		return errors.Wrapf(err, "failed to stat %s in workspace %s", name, key)
	}
	if info.IsDir() {
		return errors.Wrapf(ErrNotFound, "file %s in workspace %s", name, key)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "file %s in workspace %s", name, key)
		}
		return errors.Wrapf(err, "failed to delete %s in workspace %s", name, key)
	}

	logger.G(ctx).WithFields(map[string]any{
		"workspace": string(m.kind),
		"key":       key,
		"file":      name,
	}).Debug("deleted workspace file")
	return nil
}

// DeleteWorkspace removes root/key and everything in it. The directory is
// first renamed to a hidden staging name, so callers never see a partially
// deleted workspace. Deleting an absent workspace is a no-op.
func (m *Manager) DeleteWorkspace(ctx context.Context, key string) error {
	dir, err := m.Path(key)
	if err != nil {
		m.logPathRejected(ctx, key, "", err)
		return err
	}

	ctx, span := telemetry.Start(ctx, "workspace.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("workspace.kind", string(m.kind)),
		attribute.String("workspace.key", key),
	)

	staging := filepath.Join(m.root, "."+key+".deleting-"+uuid.NewString())
	if err := os.Rename(dir, staging); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		telemetry.RecordError(ctx, err)
		return errors.Wrapf(err, "failed to delete workspace %s", key)
	}

	if err := os.RemoveAll(staging); err != nil {
		// The workspace is already gone from view; only the hidden staging
		// directory is left behind.
		logger.G(ctx).WithError(err).WithField("staging", staging).Warn("failed to remove staged workspace")
	}

	logger.G(ctx).WithFields(map[string]any{
		"workspace": string(m.kind),
		"key":       key,
	}).Info("workspace deleted")
	return nil
}

// ListWorkspaces returns the keys of all present workspaces, sorted
func (m *Manager) ListWorkspaces(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "failed to list workspaces in %s", m.root)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validComponent(entry.Name()) {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	logger.G(ctx).WithField("count", len(keys)).Debug("listed workspaces")
	return keys, nil
}

// Glob returns the names of files in root/key matching a doublestar pattern
// such as "*.md" or "report-{q1,q2}.csv"
func (m *Manager) Glob(ctx context.Context, key, pattern string) ([]string, error) {
	dir, err := m.Path(key)
	if err != nil {
		m.logPathRejected(ctx, key, "", err)
		return nil, err
	}
	if pattern == "" || filepath.IsAbs(pattern) || !doublestar.ValidatePattern(pattern) {
		return nil, errors.Wrapf(ErrInvalidPath, "invalid pattern %q", pattern)
	}
	for _, part := range strings.Split(filepath.ToSlash(pattern), "/") {
		if part == ".." {
			return nil, errors.Wrapf(ErrInvalidPath, "invalid pattern %q", pattern)
		}
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to match %q in workspace %s", pattern, key)
	}

	names := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := fs.Stat(fsys, match)
		if err != nil || !info.Mode().IsRegular() || strings.HasPrefix(filepath.Base(match), ".") {
			continue
		}
		names = append(names, match)
	}
	sort.Strings(names)
	return names, nil
}
