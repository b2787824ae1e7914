package session

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surogate/surogate-agent/pkg/workspace"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	return m
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Regexp(t, regexp.MustCompile(`^\d{8}-\d{6}-[0-9a-f]{6}$`), id)

	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Regexp(t, `^20260314-150926-`, newIDAt(at))
	assert.NotEqual(t, newIDAt(at), newIDAt(at))
}

func TestNewDoesNotCreateWorkspace(t *testing.T) {
	m := newTestManager(t)

	s, err := m.New("")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, filepath.Join(m.Workspace().Root(), s.ID), s.WorkspaceDir)
	assert.False(t, s.Exists())

	_, err = os.Stat(s.WorkspaceDir)
	assert.True(t, os.IsNotExist(err))

	named, err := m.New("my-session")
	require.NoError(t, err)
	assert.Equal(t, "my-session", named.ID)

	_, err = m.New("../escape")
	assert.True(t, errors.Is(err, workspace.ErrInvalidPath))
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Get("s1")
	assert.True(t, errors.Is(err, workspace.ErrNotFound))

	s, err := m.New("s1")
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644))
	_, err = s.AddFile(ctx, src, "")
	require.NoError(t, err)

	got, err := m.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	files, err := got.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "data.csv", files[0].Name)
}

func TestResumeOrCreate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	s, err := m.ResumeOrCreate("s1")
	require.NoError(t, err)
	assert.False(t, s.Exists())

	_, err = m.Workspace().WriteFile(ctx, "s1", "report.md", []byte("# Report"))
	require.NoError(t, err)

	resumed, err := m.ResumeOrCreate("s1")
	require.NoError(t, err)
	assert.True(t, resumed.Exists())

	_, err = m.ResumeOrCreate("a/b")
	assert.True(t, errors.Is(err, workspace.ErrInvalidPath))
}

func TestResumeOrCreateWithoutID(t *testing.T) {
	m := newTestManager(t)

	s, err := m.ResumeOrCreate("")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{8}-\d{6}-[0-9a-f]{6}$`, s.ID)
	assert.False(t, s.Exists())

	other, err := m.ResumeOrCreate("")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestAddFile(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s, err := m.New("s1")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	path, err := s.AddFile(ctx, src, "renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.WorkspaceDir, "renamed.txt"), path)

	_, err = s.AddFile(ctx, src, "../escape.txt")
	assert.True(t, errors.Is(err, workspace.ErrInvalidPath))

	_, err = s.AddFile(ctx, src, "renamed.txt", workspace.WithConflictProtection())
	assert.True(t, errors.Is(err, workspace.ErrAlreadyExists))

	_, err = s.AddFile(ctx, filepath.Join(t.TempDir(), "missing.txt"), "")
	assert.Error(t, err)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	sessions, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	for _, id := range []string{"20260101-090000-aaaaaa", "20260301-090000-bbbbbb", "20260201-090000-cccccc"} {
		_, err := m.Workspace().Ensure(ctx, id)
		require.NoError(t, err)
	}

	sessions, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "20260301-090000-bbbbbb", sessions[0].ID)
	assert.Equal(t, "20260201-090000-cccccc", sessions[1].ID)
	assert.Equal(t, "20260101-090000-aaaaaa", sessions[2].ID)

	existed, err := m.Delete(ctx, "20260301-090000-bbbbbb")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = m.Delete(ctx, "20260301-090000-bbbbbb")
	require.NoError(t, err)
	assert.False(t, existed)

	sessions, err = m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
