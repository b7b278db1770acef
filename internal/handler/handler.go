package handler

import (
	"encoding/json"
	"net/http"

	"github.com/keyfs/keyfs/internal/engine"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/models"
	"github.com/keyfs/keyfs/pkg/logging"
	"github.com/keyfs/keyfs/pkg/logging/slogext"
)

type Handler struct {
	engine *engine.Engine
}

func NewHandler(engine *engine.Engine) *Handler {
	return &Handler{engine: engine}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Errno int64  `json:"errno"`
}

type statResponse struct {
	Meta models.NodeMeta `json:"meta"`
}

type readDirResponse struct {
	Entries []models.Dirent `json:"entries"`
}

type readFileResponse struct {
	// Data is base64 within JSON, matching encoding/json's []byte rule.
	Data []byte `json:"data"`
	Size int64  `json:"size"`
}

type createFileRequest struct {
	Path      string `json:"path"`
	Data      []byte `json:"data"`
	Exclusive bool   `json:"exclusive"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type writeFileRequest struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

type renameRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

type symlinkRequest struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

type readLinkResponse struct {
	Target string `json:"target"`
}

func (h *Handler) HandleStat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meta, err := h.engine.Stat(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, statResponse{Meta: *meta})
}

func (h *Handler) HandleReadDir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := h.engine.ReadDir(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, readDirResponse{Entries: entries})
}

func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := h.engine.ReadFile(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, readFileResponse{Data: data, Size: int64(len(data))})
}

func (h *Handler) HandleReadLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target, err := h.engine.ReadLink(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, readLinkResponse{Target: target})
}

func (h *Handler) HandleCreateFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createFileRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	meta, err := h.engine.CreateFile(ctx, req.Path, req.Data, req.Exclusive)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, statResponse{Meta: *meta})
}

func (h *Handler) HandleMkdir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	meta, err := h.engine.CreateDir(ctx, req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, statResponse{Meta: *meta})
}

func (h *Handler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req writeFileRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	meta, err := h.engine.WriteFile(ctx, req.Path, req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, statResponse{Meta: *meta})
}

func (h *Handler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.engine.Unlink(ctx, req.Path); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRmdir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.engine.RemoveDir(ctx, req.Path); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req renameRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.engine.Rename(ctx, req.OldPath, req.NewPath); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSymlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req symlinkRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	meta, err := h.engine.Symlink(ctx, req.Path, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, statResponse{Meta: *meta})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"keyfs"}`))
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fserrors.E(fserrors.KindInvalidArgument, "handler.decodeRequest", "", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	const op = "handler.writeJSON"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := logging.GetLoggerFromContextWithOp(r.Context(), op)
		logger.Error("Failed to encode response", slogext.Err(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fserrors.KindOf(err)
	writeJSON(w, r, statusOf(kind), errorResponse{
		Error: err.Error(),
		Kind:  kind.String(),
		Errno: kind.Errno(),
	})
}

func statusOf(kind fserrors.Kind) int {
	switch kind {
	case fserrors.KindNotFound:
		return http.StatusNotFound
	case fserrors.KindAlreadyExists:
		return http.StatusConflict
	case fserrors.KindNotADirectory, fserrors.KindIsADirectory, fserrors.KindInvalidArgument:
		return http.StatusBadRequest
	case fserrors.KindNotEmpty:
		return http.StatusConflict
	case fserrors.KindPermissionDenied:
		return http.StatusForbidden
	case fserrors.KindOutOfSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
