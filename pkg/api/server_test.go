package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surogate/surogate-agent/pkg/config"
	"github.com/surogate/surogate-agent/pkg/resolver"
	"github.com/surogate/surogate-agent/pkg/version"
)

func writeSkill(t *testing.T, root, name, frontmatter string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\nname: " + name + "\ndescription: The " + name + " skill\n" + frontmatter + "---\n\n# " + name + "\n\nInstructions.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
	return dir
}

func newTestServer(t *testing.T) (*Server, config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.Skills.SystemDir = filepath.Join(base, "skills", "builtin")
	cfg.Skills.UserDir = filepath.Join(base, "skills", "user")
	cfg.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.SessionsDir = filepath.Join(base, "sessions")

	writeSkill(t, cfg.Skills.SystemDir, "skill-builder", "role-restriction: developer\nallowed-tools: read write edit\n")
	dir := writeSkill(t, cfg.Skills.UserDir, "report-writer", "allowed-tools: read write\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "template.md"), []byte("# Template\n"), 0o644))

	r, err := resolver.NewFromConfig(cfg)
	require.NoError(t, err)

	s, err := NewServer(&ServerConfig{Host: "localhost", Port: 8080}, r)
	require.NoError(t, err)
	return s, cfg
}

func do(t *testing.T, s *Server, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, s *Server, target, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("upload", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return do(t, s, http.MethodPost, target, buf.Bytes(), mw.FormDataContentType())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name          string
		config        *ServerConfig
		expectedError string
	}{
		{
			name:   "valid config",
			config: &ServerConfig{Host: "localhost", Port: 8080},
		},
		{
			name:          "empty host",
			config:        &ServerConfig{Host: "", Port: 8080},
			expectedError: "host cannot be empty",
		},
		{
			name:          "invalid port - too low",
			config:        &ServerConfig{Host: "localhost", Port: 0},
			expectedError: "port must be between 1 and 65535",
		},
		{
			name:          "invalid port - too high",
			config:        &ServerConfig{Host: "localhost", Port: 65536},
			expectedError: "port must be between 1 and 65535",
		},
		{
			name:          "negative upload size",
			config:        &ServerConfig{Host: "localhost", Port: 8080, MaxUploadBytes: -1},
			expectedError: "max upload size cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewServerRequiresResolver(t *testing.T) {
	_, err := NewServer(&ServerConfig{Host: "localhost", Port: 8080}, nil)
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/workspace/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, float64(http.StatusNotFound), resp["status"])
}

func TestListSkills(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("all", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		items := decode[[]SkillListItem](t, w)
		require.Len(t, items, 2)
		assert.Equal(t, "report-writer", items[0].Name)
		assert.False(t, items[0].System)
		assert.Equal(t, []string{"file-read", "file-write"}, items[0].Capabilities)
		assert.Equal(t, "skill-builder", items[1].Name)
		assert.True(t, items[1].System)
		assert.Equal(t, "author-only", items[1].RoleRestriction)
	})

	t.Run("consumer", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills?role=user", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		items := decode[[]SkillListItem](t, w)
		require.Len(t, items, 1)
		assert.Equal(t, "report-writer", items[0].Name)
	})

	t.Run("author", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills?role=developer", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[[]SkillListItem](t, w), 2)
	})

	t.Run("unknown role", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills?role=admin", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetSkill(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/skills/Report-Writer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[SkillResponse](t, w)
	assert.Equal(t, "report-writer", resp.Name)
	assert.Equal(t, "report-writer", resp.Title)
	assert.Contains(t, resp.Content, "name: report-writer")
	require.Len(t, resp.HelperFiles, 1)
	assert.Equal(t, "template.md", resp.HelperFiles[0].Name)
	assert.Equal(t, int64(len("# Template\n")), resp.HelperFiles[0].Size)

	w = do(t, s, http.MethodGet, "/api/skills/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateSkill(t *testing.T) {
	s, cfg := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/skills/report-writer/validate", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[ValidationResult](t, w)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Repairs)

	broken := filepath.Join(cfg.Skills.UserDir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "SKILL.md"), []byte("---\ndescription: no name\n---\n"), 0o644))

	w = do(t, s, http.MethodPost, "/api/skills/broken/validate", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	result = decode[ValidationResult](t, w)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "name")

	w = do(t, s, http.MethodPost, "/api/skills/missing/validate", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateSkillDoesNotRewrite(t *testing.T) {
	s, cfg := newTestServer(t)

	dir := filepath.Join(cfg.Skills.UserDir, "sloppy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw := []byte("\n\n---\nname: sloppy\ndescription: Needs tidying\n---\nbody")
	path := filepath.Join(dir, "SKILL.md")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	w := do(t, s, http.MethodPost, "/api/skills/sloppy/validate", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[ValidationResult](t, w)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Repairs)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	w = do(t, s, http.MethodPost, "/api/skills/sloppy/validate", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, result.Repairs, decode[ValidationResult](t, w).Repairs)
}

func TestDownloadSkillFile(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/skills/report-writer/files/template.md", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# Template\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "template.md")

	w = do(t, s, http.MethodGet, "/api/skills/report-writer/files/SKILL.md", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeveloperWorkspace(t *testing.T) {
	s, cfg := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/workspace", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]WorkspaceResponse](t, w))

	w = upload(t, s, "/api/workspace/report-writer/files", "example.csv", []byte("a,b\n"))
	require.Equal(t, http.StatusCreated, w.Code)
	up := decode[UploadResponse](t, w)
	assert.Equal(t, "example.csv", up.Uploaded)
	assert.Equal(t, 4, up.SizeBytes)

	w = upload(t, s, "/api/workspace/report-writer/files?filename=renamed.csv", "example.csv", []byte("c,d\n"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodGet, "/api/workspace/report-writer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	desc := decode[WorkspaceResponse](t, w)
	assert.Equal(t, "report-writer", desc.Key)
	assert.Equal(t, filepath.Join(cfg.WorkspaceDir, "report-writer"), desc.WorkspaceDir)
	require.Len(t, desc.Files, 2)
	assert.Equal(t, "example.csv", desc.Files[0].Name)
	assert.Equal(t, "renamed.csv", desc.Files[1].Name)

	w = do(t, s, http.MethodGet, "/api/workspace", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]WorkspaceResponse](t, w), 1)

	w = do(t, s, http.MethodGet, "/api/workspace/report-writer/files/example.csv", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "example.csv")

	t.Run("symlink leaving the workspace", func(t *testing.T) {
		secret := filepath.Join(t.TempDir(), "secret.txt")
		require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))
		link := filepath.Join(cfg.WorkspaceDir, "report-writer", "secret.txt")
		require.NoError(t, os.Symlink(secret, link))
		defer os.Remove(link)

		w := do(t, s, http.MethodGet, "/api/workspace/report-writer/files/secret.txt", nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NotContains(t, w.Body.String(), "top secret")
	})

	t.Run("conflict protection", func(t *testing.T) {
		w := upload(t, s, "/api/workspace/report-writer/files?overwrite=false", "example.csv", []byte("x"))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid names", func(t *testing.T) {
		w := upload(t, s, "/api/workspace/report-writer/files?filename=.env", "x", []byte("x"))
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = do(t, s, http.MethodGet, "/api/workspace/.hidden", nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/workspace/report-writer/files/nope.txt", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = do(t, s, http.MethodGet, "/api/workspace/other/files", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	w = do(t, s, http.MethodDelete, "/api/workspace/report-writer/files/example.csv", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodDelete, "/api/workspace/report-writer/files/example.csv", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodDelete, "/api/workspace/report-writer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NoDirExists(t, filepath.Join(cfg.WorkspaceDir, "report-writer"))
	w = do(t, s, http.MethodDelete, "/api/workspace/report-writer", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveAndSessionWorkspace(t *testing.T) {
	s, cfg := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/resolve", []byte(`{"role":"consumer","user_id":"bob"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[ResolveResponse](t, w)
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, []string{"report-writer"}, res.Skills)
	assert.Equal(t, []string{cfg.Skills.UserDir}, res.Sources)
	assert.NoDirExists(t, res.WorkspaceDir)

	w = upload(t, s, "/api/sessions/"+res.SessionID+"/files", "data.csv", []byte("1,2\n"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.DirExists(t, res.WorkspaceDir)

	w = do(t, s, http.MethodGet, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[[]WorkspaceResponse](t, w)
	require.Len(t, sessions, 1)
	assert.Equal(t, res.SessionID, sessions[0].Key)
	assert.Equal(t, "session", string(sessions[0].Kind))

	w = do(t, s, http.MethodPost, "/api/resolve", []byte(`{"role":"author"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[ResolveResponse](t, w)
	assert.Empty(t, res.SessionID)
	assert.Equal(t, cfg.WorkspaceDir, res.WorkspaceDir)
	assert.Len(t, res.Skills, 2)

	w = do(t, s, http.MethodPost, "/api/resolve", []byte(`{"role":"consumer","session_id":"../x"}`), "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodPost, "/api/resolve", []byte(`{"role":"root"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/resolve", []byte(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/skills", nil, "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "DELETE"))
}

func TestRequestIDAndServerHeader(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/skills", nil, "")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, version.Get().UserAgent(), w.Header().Get("Server"))

	req := httptest.NewRequest(http.MethodGet, "/api/skills", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestVersionEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/version", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[version.Info](t, w)
	assert.Equal(t, version.Get().Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestErrorResponseBody(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/skills/missing", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Error)
}
