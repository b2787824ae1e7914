package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surogate/surogate-agent/pkg/config"
	"github.com/surogate/surogate-agent/pkg/roles"
	"github.com/surogate/surogate-agent/pkg/workspace"
)

func writeSkill(t *testing.T, root, name, frontmatter string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\nname: " + name + "\ndescription: The " + name + " skill\n" + frontmatter + "---\n\nInstructions.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.Skills.SystemDir = filepath.Join(base, "skills", "builtin")
	cfg.Skills.UserDir = filepath.Join(base, "skills", "user")
	cfg.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.SessionsDir = filepath.Join(base, "sessions")

	writeSkill(t, cfg.Skills.SystemDir, "skill-builder", "role-restriction: developer\nallowed-tools: read write edit\n")
	writeSkill(t, cfg.Skills.UserDir, "report-writer", "allowed-tools: read write\n")
	return cfg
}

func TestResolveAuthor(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewFromConfig(cfg)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), roles.NewContext(roles.Author, "alice", ""))
	require.NoError(t, err)

	assert.Equal(t, roles.Author, res.Role)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, []string{"report-writer", "skill-builder"}, res.SkillNames())
	assert.Equal(t, r.Developer().Root(), res.WorkspaceDir)
	assert.Empty(t, res.SessionID)
	assert.False(t, res.ShellExecute)
}

func TestResolveConsumer(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewFromConfig(cfg)
	require.NoError(t, err)

	t.Run("generates a session", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), roles.NewContext(roles.Consumer, "bob", ""))
		require.NoError(t, err)

		assert.Equal(t, []string{cfg.Skills.UserDir}, res.Sources)
		assert.Equal(t, []string{"report-writer"}, res.SkillNames())
		require.NotEmpty(t, res.SessionID)
		assert.Equal(t, filepath.Join(r.Sessions().Workspace().Root(), res.SessionID), res.WorkspaceDir)

		_, err = os.Stat(res.WorkspaceDir)
		assert.True(t, os.IsNotExist(err), "resolving must not create the workspace")
	})

	t.Run("resumes a session", func(t *testing.T) {
		rc := roles.NewContext(roles.Consumer, "bob", "s1")
		res, err := r.Resolve(context.Background(), rc)
		require.NoError(t, err)
		assert.Equal(t, "s1", res.SessionID)
	})

	t.Run("rejects an escaping session id", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), roles.NewContext(roles.Consumer, "bob", "../s1"))
		assert.True(t, errors.Is(err, workspace.ErrInvalidPath))
	})
}

func TestResolveShellExecute(t *testing.T) {
	t.Run("consumer skill declares shell-execute", func(t *testing.T) {
		cfg := testConfig(t)
		writeSkill(t, cfg.Skills.UserDir, "runner", "allowed-tools: bash\n")
		r, err := NewFromConfig(cfg)
		require.NoError(t, err)

		res, err := r.Resolve(context.Background(), roles.NewContext(roles.Consumer, "", ""))
		require.NoError(t, err)
		assert.True(t, res.ShellExecute)

		res, err = r.Resolve(context.Background(), roles.NewContext(roles.Author, "", ""))
		require.NoError(t, err)
		assert.False(t, res.ShellExecute)
	})

	t.Run("author-only skill does not grant consumers", func(t *testing.T) {
		cfg := testConfig(t)
		writeSkill(t, cfg.Skills.UserDir, "runner", "allowed-tools: bash\nrole-restriction: developer\n")
		r, err := NewFromConfig(cfg)
		require.NoError(t, err)

		res, err := r.Resolve(context.Background(), roles.NewContext(roles.Consumer, "", ""))
		require.NoError(t, err)
		assert.False(t, res.ShellExecute)
	})

	t.Run("allow_execute", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AllowExecute = true
		r, err := NewFromConfig(cfg)
		require.NoError(t, err)

		res, err := r.Resolve(context.Background(), roles.NewContext(roles.Author, "", ""))
		require.NoError(t, err)
		assert.True(t, res.ShellExecute)
	})
}

func TestResolveSkillSelection(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.NoSkills = true
		r, err := NewFromConfig(cfg)
		require.NoError(t, err)

		res, err := r.Resolve(context.Background(), roles.NewContext(roles.Author, "", ""))
		require.NoError(t, err)
		assert.Empty(t, res.Skills)
		assert.Len(t, res.Sources, 2)
	})

	t.Run("allowlist", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Skills.Allowed = []string{"skill-*"}
		r, err := NewFromConfig(cfg)
		require.NoError(t, err)

		res, err := r.Resolve(context.Background(), roles.NewContext(roles.Author, "", ""))
		require.NoError(t, err)
		assert.Equal(t, []string{"skill-builder"}, res.SkillNames())
	})
}
