package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surogate/surogate-agent/pkg/config"
	"github.com/surogate/surogate-agent/pkg/resolver"
	"github.com/surogate/surogate-agent/pkg/workspace"
)

func writeSkillFile(t *testing.T, root, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
	return dir
}

func testResolver(t *testing.T) (*resolver.Resolver, config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.Skills.SystemDir = filepath.Join(base, "builtin")
	cfg.Skills.UserDir = filepath.Join(base, "skills")
	cfg.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.SessionsDir = filepath.Join(base, "sessions")

	writeSkillFile(t, cfg.Skills.SystemDir, "skill-builder",
		"---\nname: skill-builder\ndescription: Builds skills\nrole-restriction: developer\n---\n\nBuild.\n")
	writeSkillFile(t, cfg.Skills.UserDir, "report-writer",
		"---\nname: report-writer\ndescription: Writes reports\nallowed-tools: read write\n---\n\n# Reports\n")

	r, err := resolver.NewFromConfig(cfg)
	require.NoError(t, err)
	return r, cfg
}

func TestListSkills(t *testing.T) {
	r, _ := testResolver(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, listSkills(ctx, &out, r.Registry(), NewSkillListConfig()))
	assert.Contains(t, out.String(), "report-writer")
	assert.Contains(t, out.String(), "skill-builder")

	out.Reset()
	require.NoError(t, listSkills(ctx, &out, r.Registry(), &SkillListConfig{Role: "consumer"}))
	assert.Contains(t, out.String(), "report-writer")
	assert.NotContains(t, out.String(), "skill-builder")

	assert.Error(t, listSkills(ctx, &out, r.Registry(), &SkillListConfig{Role: "root"}))
}

func TestListSkillsStrict(t *testing.T) {
	r, cfg := testResolver(t)
	writeSkillFile(t, cfg.Skills.UserDir, "broken", "---\ndescription: missing a name\n---\n")

	var out bytes.Buffer
	require.NoError(t, listSkills(context.Background(), &out, r.Registry(), NewSkillListConfig()))
	assert.Contains(t, out.String(), "report-writer")

	err := listSkills(context.Background(), &out, r.Registry(), &SkillListConfig{Strict: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestShowSkill(t *testing.T) {
	r, cfg := testResolver(t)
	dir := filepath.Join(cfg.Skills.UserDir, "report-writer")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "template.md"), []byte("t"), 0o644))

	var out bytes.Buffer
	require.NoError(t, showSkill(context.Background(), &out, r.Registry(), "REPORT-WRITER"))
	assert.Contains(t, out.String(), "Writes reports")
	assert.Contains(t, out.String(), "file-read, file-write")
	assert.Contains(t, out.String(), "template.md")
	assert.Contains(t, out.String(), "# Reports")

	assert.Error(t, showSkill(context.Background(), &out, r.Registry(), "missing"))
}

func TestValidateSkillDir(t *testing.T) {
	root := t.TempDir()

	valid := writeSkillFile(t, root, "csv-tools", "---\nname: csv-tools\ndescription: Works with CSV\n---\n\nBody.\n")
	assert.NoError(t, validateSkillDir(context.Background(), valid))

	repairable := writeSkillFile(t, root, "draft", "\n\n---\nname: draft\ndescription: Needs repair\n\nBody without closing delimiter\n")
	original, err := os.ReadFile(filepath.Join(repairable, "SKILL.md"))
	require.NoError(t, err)
	assert.NoError(t, validateSkillDir(context.Background(), repairable))
	after, err := os.ReadFile(filepath.Join(repairable, "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, original, after, "validate must not rewrite the file")

	broken := writeSkillFile(t, root, "broken", "---\ndescription: no name\n---\n")
	assert.Error(t, validateSkillDir(context.Background(), broken))

	assert.Error(t, validateSkillDir(context.Background(), filepath.Join(root, "missing")))
}

func TestNormalizeSkillDir(t *testing.T) {
	root := t.TempDir()
	raw := "\ufeff# Draft notes\n---\nname: draft\ndescription: Needs repair\n---\n\nBody."
	dir := writeSkillFile(t, root, "draft", raw)
	path := filepath.Join(dir, "SKILL.md")

	require.NoError(t, normalizeSkillDir(context.Background(), dir, true))
	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, string(unchanged))

	require.NoError(t, normalizeSkillDir(context.Background(), dir, false))
	repaired, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, raw, string(repaired))
	assert.True(t, bytes.HasPrefix(repaired, []byte("---\n")))
	assert.Contains(t, string(repaired), "# Draft notes")

	// a second pass finds nothing to repair
	require.NoError(t, normalizeSkillDir(context.Background(), dir, false))
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, repaired, again)
}

func TestWorkspaceFiles(t *testing.T) {
	r, _ := testResolver(t)
	ctx := context.Background()
	ws := r.Developer()

	src := filepath.Join(t.TempDir(), "example.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n"), 0o644))

	var out bytes.Buffer
	assert.True(t, errors.Is(listFiles(ctx, &out, ws, "report-writer", ""), workspace.ErrNotFound))

	path, err := addFile(ctx, ws, "report-writer", src, NewFileAddConfig())
	require.NoError(t, err)
	assert.Equal(t, "example.csv", filepath.Base(path))

	_, err = addFile(ctx, ws, "report-writer", src, &FileAddConfig{Name: "notes.md"})
	require.NoError(t, err)

	_, err = addFile(ctx, ws, "report-writer", src, &FileAddConfig{NoOverwrite: true})
	assert.True(t, errors.Is(err, workspace.ErrAlreadyExists))

	_, err = addFile(ctx, ws, "report-writer", src, &FileAddConfig{Name: "../escape.csv"})
	assert.True(t, errors.Is(err, workspace.ErrInvalidPath))

	out.Reset()
	require.NoError(t, listFiles(ctx, &out, ws, "report-writer", ""))
	assert.Contains(t, out.String(), "example.csv")
	assert.Contains(t, out.String(), "notes.md")

	out.Reset()
	require.NoError(t, listFiles(ctx, &out, ws, "report-writer", "*.md"))
	assert.Equal(t, "notes.md\n", out.String())

	out.Reset()
	require.NoError(t, showFile(ctx, &out, ws, "report-writer", "example.csv"))
	assert.Equal(t, "a,b\n", out.String())

	out.Reset()
	require.NoError(t, listWorkspaces(ctx, &out, ws))
	assert.Contains(t, out.String(), "report-writer")

	require.NoError(t, cleanWorkspace(ctx, ws, "report-writer"))
	assert.True(t, errors.Is(cleanWorkspace(ctx, ws, "report-writer"), workspace.ErrNotFound))
}

func TestListSessions(t *testing.T) {
	r, _ := testResolver(t)
	ctx := context.Background()
	sessions := r.Sessions()

	var out bytes.Buffer
	require.NoError(t, listSessions(ctx, &out, sessions))
	assert.Empty(t, out.String())

	s, err := sessions.New("")
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("1,2\n"), 0o644))
	_, err = addSessionFile(ctx, sessions, s.ID, src, NewFileAddConfig())
	require.NoError(t, err)

	require.NoError(t, listSessions(ctx, &out, sessions))
	assert.Contains(t, out.String(), s.ID)
}

func TestAddSessionFile(t *testing.T) {
	r, _ := testResolver(t)
	ctx := context.Background()
	sessions := r.Sessions()

	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("1,2\n"), 0o644))

	path, err := addSessionFile(ctx, sessions, "20261018-093000-abc123", src, &FileAddConfig{Name: "input.csv"})
	require.NoError(t, err)
	assert.Equal(t, "input.csv", filepath.Base(path))

	s, err := sessions.Get("20261018-093000-abc123")
	require.NoError(t, err)
	files, err := s.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "input.csv", files[0].Name)

	_, err = addSessionFile(ctx, sessions, s.ID, src, &FileAddConfig{Name: "input.csv", NoOverwrite: true})
	assert.True(t, errors.Is(err, workspace.ErrAlreadyExists))

	_, err = addSessionFile(ctx, sessions, "../escape", src, NewFileAddConfig())
	assert.True(t, errors.Is(err, workspace.ErrInvalidPath))
}
