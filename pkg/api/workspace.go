package api

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/surogate/surogate-agent/pkg/workspace"
)

// WorkspaceResponse describes one workspace and its files
type WorkspaceResponse struct {
	Key          string               `json:"key"`
	Kind         workspace.Kind       `json:"kind"`
	WorkspaceDir string               `json:"workspace_dir"`
	Files        []workspace.FileInfo `json:"files"`
}

// UploadResponse is the body returned after a successful upload
type UploadResponse struct {
	Uploaded  string `json:"uploaded"`
	Key       string `json:"key"`
	SizeBytes int    `json:"size_bytes"`
}

// workspaceRoutes serves one workspace root. The developer workspace and the
// session workspaces share these handlers.
type workspaceRoutes struct {
	server    *Server
	workspace *workspace.Manager
	list      func(ctx context.Context) ([]string, error)
}

func (wr *workspaceRoutes) register(router *mux.Router) {
	router.HandleFunc("", wr.handleList).Methods("GET")
	router.HandleFunc("/{key}", wr.handleGet).Methods("GET")
	router.HandleFunc("/{key}", wr.handleDelete).Methods("DELETE")
	router.HandleFunc("/{key}/files", wr.handleListFiles).Methods("GET")
	router.HandleFunc("/{key}/files", wr.handleUpload).Methods("POST")
	router.HandleFunc("/{key}/files/{file}", wr.handleDownload).Methods("GET")
	router.HandleFunc("/{key}/files/{file}", wr.handleDeleteFile).Methods("DELETE")
}

func (wr *workspaceRoutes) describe(ctx context.Context, key string) (*WorkspaceResponse, error) {
	dir, err := wr.workspace.Path(key)
	if err != nil {
		return nil, err
	}
	files, err := wr.workspace.ListFiles(ctx, key)
	if err != nil {
		return nil, err
	}
	return &WorkspaceResponse{
		Key:          key,
		Kind:         wr.workspace.Kind(),
		WorkspaceDir: dir,
		Files:        files,
	}, nil
}

// requireWorkspace writes a 404 and returns false when the workspace does
// not exist
func (wr *workspaceRoutes) requireWorkspace(w http.ResponseWriter, r *http.Request, key string) bool {
	exists, err := wr.workspace.Exists(key)
	if err != nil {
		wr.server.writeError(w, r, "invalid workspace key", err)
		return false
	}
	if !exists {
		wr.server.writeErrorResponse(w, r, http.StatusNotFound, "workspace '"+key+"' not found", nil)
		return false
	}
	return true
}

func (wr *workspaceRoutes) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keys, err := wr.list(ctx)
	if err != nil {
		wr.server.writeError(w, r, "failed to list workspaces", err)
		return
	}

	resp := make([]*WorkspaceResponse, 0, len(keys))
	for _, key := range keys {
		desc, err := wr.describe(ctx, key)
		if err != nil {
			wr.server.writeError(w, r, "failed to describe workspace", err)
			return
		}
		resp = append(resp, desc)
	}
	wr.server.writeJSONResponse(w, r, http.StatusOK, resp)
}

func (wr *workspaceRoutes) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !wr.requireWorkspace(w, r, key) {
		return
	}

	desc, err := wr.describe(r.Context(), key)
	if err != nil {
		wr.server.writeError(w, r, "failed to describe workspace", err)
		return
	}
	wr.server.writeJSONResponse(w, r, http.StatusOK, desc)
}

func (wr *workspaceRoutes) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !wr.requireWorkspace(w, r, key) {
		return
	}

	if err := wr.workspace.DeleteWorkspace(r.Context(), key); err != nil {
		wr.server.writeError(w, r, "failed to delete workspace", err)
		return
	}
	wr.server.writeJSONResponse(w, r, http.StatusOK, map[string]string{"deleted": key})
}

func (wr *workspaceRoutes) handleListFiles(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !wr.requireWorkspace(w, r, key) {
		return
	}

	files, err := wr.workspace.ListFiles(r.Context(), key)
	if err != nil {
		wr.server.writeError(w, r, "failed to list files", err)
		return
	}
	wr.server.writeJSONResponse(w, r, http.StatusOK, files)
}

// handleUpload stores a multipart upload. The filename query parameter
// overrides the uploaded name, and overwrite=false refuses to replace an
// existing file.
func (wr *workspaceRoutes) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	r.Body = http.MaxBytesReader(w, r.Body, wr.server.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(wr.server.config.MaxUploadBytes); err != nil {
		wr.server.writeErrorResponse(w, r, http.StatusBadRequest, "invalid multipart upload", err)
		return
	}

	file, header, err := r.FormFile("upload")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		wr.server.writeErrorResponse(w, r, http.StatusBadRequest, "missing upload field", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		wr.server.writeErrorResponse(w, r, http.StatusBadRequest, "failed to read upload", err)
		return
	}

	name := r.URL.Query().Get("filename")
	if name == "" {
		name = header.Filename
	}
	if name == "" {
		name = "upload"
	}

	var opts []workspace.WriteOption
	if r.URL.Query().Get("overwrite") == "false" {
		opts = append(opts, workspace.WithConflictProtection())
	}

	if _, err := wr.workspace.WriteFile(ctx, key, name, data, opts...); err != nil {
		wr.server.writeError(w, r, "failed to store upload", err)
		return
	}

	wr.server.writeJSONResponse(w, r, http.StatusCreated, UploadResponse{
		Uploaded:  name,
		Key:       key,
		SizeBytes: len(data),
	})
}

func (wr *workspaceRoutes) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, name := vars["key"], vars["file"]
	if !wr.requireWorkspace(w, r, key) {
		return
	}

	data, err := wr.workspace.ReadFile(r.Context(), key, name)
	if err != nil {
		wr.server.writeError(w, r, "file '"+name+"' not found in workspace '"+key+"'", err)
		return
	}
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

func (wr *workspaceRoutes) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, name := vars["key"], vars["file"]
	if !wr.requireWorkspace(w, r, key) {
		return
	}

	if err := wr.workspace.DeleteFile(r.Context(), key, name); err != nil {
		wr.server.writeError(w, r, "failed to delete file", errors.Wrapf(err, "workspace %s", key))
		return
	}
	wr.server.writeJSONResponse(w, r, http.StatusOK, map[string]string{"deleted": name})
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

// serveAttachment streams a file as a download
func serveAttachment(w http.ResponseWriter, r *http.Request, path, name string) {
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeFile(w, r, path)
}
