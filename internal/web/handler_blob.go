package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vbonduro/checkin/internal/blobstore"
)

type listingResponse struct {
	Container string   `json:"container"`
	Files     []string `json:"files"`
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	if key := r.PathValue("key"); key == "" || strings.HasSuffix(key, "/") {
		s.handleListBlobs(w, r, strings.TrimSuffix(key, "/"))
		return
	}

	data, mimeType, err := s.blobs.Public(r.PathValue("key"))
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Error("read blob failed", "key", r.PathValue("key"), "error", err)
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write blob failed", "key", r.PathValue("key"), "error", err)
	}
}

// handleListBlobs answers a container URL with the container's shared blobs.
func (s *Server) handleListBlobs(w http.ResponseWriter, r *http.Request, container string) {
	if container == "" {
		http.NotFound(w, r)
		return
	}
	files, err := s.blobs.PublicList(container)
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Error("list blobs failed", "container", container, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	s.writeJSON(w, http.StatusOK, listingResponse{Container: container, Files: files})
}
