package handler

import (
	"net/http"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// System endpoints
	mux.HandleFunc("/health", h.HandleHealthCheck)

	// API endpoints
	mux.HandleFunc("/api/stat", h.HandleStat)
	mux.HandleFunc("/api/readdir", h.HandleReadDir)
	mux.HandleFunc("/api/read", h.HandleRead)
	mux.HandleFunc("/api/readlink", h.HandleReadLink)
	mux.HandleFunc("/api/create_file", h.HandleCreateFile)
	mux.HandleFunc("/api/mkdir", h.HandleMkdir)
	mux.HandleFunc("/api/write", h.HandleWrite)
	mux.HandleFunc("/api/unlink", h.HandleUnlink)
	mux.HandleFunc("/api/rmdir", h.HandleRmdir)
	mux.HandleFunc("/api/rename", h.HandleRename)
	mux.HandleFunc("/api/symlink", h.HandleSymlink)
}
