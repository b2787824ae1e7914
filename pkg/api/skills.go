package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/surogate/surogate-agent/pkg/roles"
	"github.com/surogate/surogate-agent/pkg/skills"
	"github.com/surogate/surogate-agent/pkg/workspace"
)

// SkillListItem is one row of GET /api/skills
type SkillListItem struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Version         string   `json:"version"`
	RoleRestriction string   `json:"role_restriction"`
	Capabilities    []string `json:"capabilities"`
	Path            string   `json:"path"`
	System          bool     `json:"system"`
	Repaired        bool     `json:"repaired"`
}

// SkillResponse is the body of GET /api/skills/{name}
type SkillResponse struct {
	SkillListItem
	Title       string               `json:"title,omitempty"`
	Content     string               `json:"skill_md_content"`
	HelperFiles []workspace.FileInfo `json:"helper_files"`
	Warnings    []string             `json:"warnings,omitempty"`
	Shadowed    []string             `json:"shadowed,omitempty"`
}

// ValidationResult is the body of POST /api/skills/{name}/validate
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Repairs  []string `json:"repairs"`
}

func newSkillListItem(skill *skills.Skill, root skills.Root) SkillListItem {
	caps := make([]string, len(skill.Capabilities))
	for i, c := range skill.Capabilities {
		caps[i] = string(c)
	}
	return SkillListItem{
		Name:            skill.Name,
		Description:     skill.Description,
		Version:         skill.Version,
		RoleRestriction: string(skill.RoleRestriction),
		Capabilities:    caps,
		Path:            skill.Directory,
		System:          root.System,
		Repaired:        skill.WasRepaired,
	}
}

// handleListSkills handles GET /api/skills. The role query parameter limits
// the listing to what that role may use; without it every winner is listed.
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := s.resolver.Registry().Build(ctx)

	roleParam := r.URL.Query().Get("role")
	items := []SkillListItem{}

	if roleParam == "" || roleParam == "all" {
		for _, e := range snap.Entries() {
			items = append(items, newSkillListItem(e.Skill, e.Root))
		}
		s.writeJSONResponse(w, r, http.StatusOK, items)
		return
	}

	role, err := roles.ParseRole(roleParam)
	if err != nil {
		s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}

	visible := snap.ForRole(role)
	for _, name := range skills.SortedNames(visible) {
		skill := visible[name]
		item := newSkillListItem(skill, skills.Root{})
		if e, ok := snap.Get(name); ok && e.Skill == skill {
			item.System = e.Root.System
		}
		items = append(items, item)
	}
	s.writeJSONResponse(w, r, http.StatusOK, items)
}

// handleGetSkill handles GET /api/skills/{name}
func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	entry, ok := s.resolver.Registry().Build(ctx).Get(name)
	if !ok {
		s.writeErrorResponse(w, r, http.StatusNotFound, "skill '"+name+"' not found", nil)
		return
	}
	skill := entry.Skill

	content, err := os.ReadFile(skill.DefinitionPath())
	if err != nil {
		if content, err = skill.Marshal(); err != nil {
			s.writeErrorResponse(w, r, http.StatusInternalServerError, "failed to read skill definition", err)
			return
		}
	}

	helpers, err := helperFileInfos(skill)
	if err != nil {
		s.writeErrorResponse(w, r, http.StatusInternalServerError, "failed to list helper files", err)
		return
	}

	resp := SkillResponse{
		SkillListItem: newSkillListItem(skill, entry.Root),
		Title:         skill.Title(),
		Content:       string(content),
		HelperFiles:   helpers,
		Warnings:      skill.Warnings,
	}
	for _, c := range entry.Shadowed {
		resp.Shadowed = append(resp.Shadowed, c.Skill.Directory)
	}
	s.writeJSONResponse(w, r, http.StatusOK, resp)
}

func helperFileInfos(skill *skills.Skill) ([]workspace.FileInfo, error) {
	names, err := skill.HelperFiles()
	if err != nil {
		return nil, err
	}
	infos := make([]workspace.FileInfo, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(skill.Directory, name))
		if err != nil {
			continue
		}
		infos = append(infos, workspace.FileInfo{Name: name, Size: info.Size(), Modified: info.ModTime()})
	}
	return infos, nil
}

// handleValidateSkill handles POST /api/skills/{name}/validate. It reports
// what loading the skill would repair or reject without touching the file.
func (s *Server) handleValidateSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]
	result := ValidationResult{Errors: []string{}, Warnings: []string{}, Repairs: []string{}}

	snap := s.resolver.Registry().ReadOnly().Build(ctx)
	entry, ok := snap.Get(name)
	if !ok {
		for _, f := range snap.Failures() {
			if strings.EqualFold(filepath.Base(f.Directory), name) {
				result.Errors = append(result.Errors, f.Err.Error())
				s.writeJSONResponse(w, r, http.StatusOK, result)
				return
			}
		}
		s.writeErrorResponse(w, r, http.StatusNotFound, "skill '"+name+"' not found", nil)
		return
	}

	raw, err := os.ReadFile(entry.Skill.DefinitionPath())
	if err != nil {
		s.writeErrorResponse(w, r, http.StatusInternalServerError, "failed to read skill definition", err)
		return
	}

	normalized, skill, err := skills.Normalize(raw)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		s.writeJSONResponse(w, r, http.StatusOK, result)
		return
	}
	if err := skills.CheckCompatibility(normalized, skill); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Warnings = append(result.Warnings, skill.Warnings...)
	for _, repair := range skill.Repairs {
		result.Repairs = append(result.Repairs, string(repair))
	}
	result.Valid = len(result.Errors) == 0
	s.writeJSONResponse(w, r, http.StatusOK, result)
}

// handleDownloadSkillFile handles GET /api/skills/{name}/files/{file}. Only
// files listed as helper files can be downloaded.
func (s *Server) handleDownloadSkillFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	name, file := vars["name"], vars["file"]

	entry, ok := s.resolver.Registry().Build(ctx).Get(name)
	if !ok {
		s.writeErrorResponse(w, r, http.StatusNotFound, "skill '"+name+"' not found", nil)
		return
	}

	helpers, err := entry.Skill.HelperFiles()
	if err != nil {
		s.writeErrorResponse(w, r, http.StatusInternalServerError, "failed to list helper files", err)
		return
	}
	for _, helper := range helpers {
		if helper == file {
			serveAttachment(w, r, filepath.Join(entry.Skill.Directory, file), file)
			return
		}
	}
	s.writeErrorResponse(w, r, http.StatusNotFound, "file '"+file+"' not found in skill '"+name+"'",
		errors.Wrapf(workspace.ErrNotFound, "helper file %s", file))
}
