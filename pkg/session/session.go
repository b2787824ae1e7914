// Package session manages user chat sessions. Each session owns one
// workspace beneath the sessions root, created on the first file write.
package session

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/surogate/surogate-agent/pkg/workspace"
)

// DefaultDir is the sessions root used when none is configured
const DefaultDir = "./sessions"

const idTimeLayout = "20060102-150405"

// NewID returns a human-readable session id of the form
// YYYYMMDD-HHMMSS-xxxxxx
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return t.Format(idTimeLayout) + "-" + suffix
}

// Session is one user conversation and its file workspace
type Session struct {
	ID           string    `json:"session_id"`
	WorkspaceDir string    `json:"workspace_dir"`
	CreatedAt    time.Time `json:"created_at"`

	manager *Manager
}

// Files returns the files currently in the session workspace, sorted by name
func (s *Session) Files(ctx context.Context) ([]workspace.FileInfo, error) {
	return s.manager.workspace.ListFiles(ctx, s.ID)
}

// AddFile copies the file at source into the workspace, creating it if
// needed. The destination name defaults to the base name of source.
func (s *Session) AddFile(ctx context.Context, source, name string, opts ...workspace.WriteOption) (string, error) {
	return s.manager.workspace.CopyFile(ctx, s.ID, source, name, opts...)
}

// Exists reports whether the session workspace has been created
func (s *Session) Exists() bool {
	ok, _ := s.manager.workspace.Exists(s.ID)
	return ok
}

func (s *Session) String() string {
	return s.ID
}

// Manager creates and resolves sessions on disk
type Manager struct {
	workspace *workspace.Manager
}

// NewManager creates a manager for sessions under dir
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		dir = DefaultDir
	}
	ws, err := workspace.NewSession(dir)
	if err != nil {
		return nil, err
	}
	return &Manager{workspace: ws}, nil
}

// Workspace returns the underlying workspace manager
func (m *Manager) Workspace() *workspace.Manager {
	return m.workspace
}

func (m *Manager) session(id string, createdAt time.Time) (*Session, error) {
	dir, err := m.workspace.Path(id)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, WorkspaceDir: dir, CreatedAt: createdAt, manager: m}, nil
}

// New returns a session with the given id, or a generated one when id is
// empty. The workspace directory is not created until a file is written.
func (m *Manager) New(id string) (*Session, error) {
	if id == "" {
		id = NewID()
	}
	return m.session(id, time.Now().UTC())
}

// Get returns an existing session, or workspace.ErrNotFound
func (m *Manager) Get(id string) (*Session, error) {
	s, err := m.session(id, time.Time{})
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(s.WorkspaceDir)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(workspace.ErrNotFound, "session %s", id)
	}
	s.CreatedAt = info.ModTime().UTC()
	return s, nil
}

// ResumeOrCreate returns the existing session with the id, or a new one. An
// empty id always starts a new session with a generated id.
func (m *Manager) ResumeOrCreate(id string) (*Session, error) {
	if id == "" {
		return m.New("")
	}
	s, err := m.Get(id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, workspace.ErrNotFound) {
		return nil, err
	}
	return m.New(id)
}

// List returns all existing sessions, newest first
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	ids, err := m.workspace.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := m.Get(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	// Ids start with their creation time, so a reverse sort is newest first
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID > sessions[j].ID })
	return sessions, nil
}

// Delete removes a session workspace and reports whether it existed
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	exists, err := m.workspace.Exists(id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := m.workspace.DeleteWorkspace(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}
