package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

type tasksResponse struct {
	Tasks []archive.Task `json:"tasks"`
}

func (s *Server) createTasks(w http.ResponseWriter, r *http.Request) {
	var req archive.TaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	hadPending, err := s.deps.Tasks.HasPending(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	tasks, err := s.deps.Tasks.Create(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	// A running drain picks new tasks up itself.
	if !hadPending && s.deps.Executor != nil {
		s.deps.Executor.Trigger()
	}
	s.writeJSON(w, http.StatusCreated, tasksResponse{Tasks: tasks})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := archive.TaskFilter{Order: archive.SortOrder(q.Get("order"))}
	var err error
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, archive.TaskStatus(part))
			}
		}
	}
	if username := q.Get("username"); username != "" {
		filter.Username = &username
	}
	page, err := s.deps.Tasks.List(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) ingestPost(w http.ResponseWriter, r *http.Request) {
	shortcode := chi.URLParam(r, "shortcode")
	post, err := s.deps.Ingester.IngestShortcode(r.Context(), shortcode)
	if err != nil {
		var notFound *archive.PostNotFoundError
		if errors.As(err, &notFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"event": "post_not_found"})
			return
		}
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, post)
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.deps.Catalog.GetPost(r.Context(), chi.URLParam(r, "shortcode"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, post)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	shortcode := chi.URLParam(r, "shortcode")
	var index *int
	if raw := r.URL.Query().Get("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
			return
		}
		index = &n
	}
	if _, err := s.deps.Deleter.DeletePost(r.Context(), shortcode, index); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	Username    string `json:"username"`
	AutoArchive *bool  `json:"auto_archive"`
}

func (s *Server) registerProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		s.writeError(w, http.StatusBadRequest, "username required")
		return
	}
	profile, err := s.deps.Ingester.EnsureProfile(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, archive.ErrProfileNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"event": "profile_not_found"})
			return
		}
		s.writeFailure(w, err)
		return
	}
	if req.AutoArchive != nil && *req.AutoArchive != profile.AutoArchive {
		if err := s.deps.Catalog.SetAutoArchive(r.Context(), profile.Username, *req.AutoArchive); err != nil {
			s.writeFailure(w, err)
			return
		}
		profile.AutoArchive = *req.AutoArchive
	}
	s.writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Catalog.GetProfile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

type autoArchiveRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setAutoArchive(w http.ResponseWriter, r *http.Request) {
	var req autoArchiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	username := chi.URLParam(r, "username")
	if err := s.deps.Catalog.SetAutoArchive(r.Context(), username, req.Enabled); err != nil {
		s.writeFailure(w, err)
		return
	}
	profile, err := s.deps.Catalog.GetProfile(r.Context(), username)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}
