package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"reviewboard/internal/app"
	"reviewboard/internal/policy"
	"reviewboard/pkg/store"
)

// Catalog records are world-readable; only admins write them. Reviews
// and comments additionally allow moderators and authors to mutate.
var (
	catalogPolicy = policy.Any(policy.ReadOnly, policy.AdminOrSuperuser)
	contentPolicy = policy.Any(policy.ReadOnly, policy.CanChangeOrReadOnly)
)

// catalog handlers
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(r)
	if !s.enforce(w, r, catalogPolicy, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit, offset := pageParams(r)
		categories, total, err := s.app.ListCategories(r.URL.Query().Get("search"), limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, categories, total)
	case http.MethodPost:
		var req nameSlugRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		category, err := s.app.CreateCategory(req.Name, req.Slug)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, category)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCategoryBySlug(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimPrefix(r.URL.Path, "/api/v1/categories/")
	if slug == "" || strings.Contains(slug, "/") {
		http.NotFound(w, r)
		return
	}
	actor := s.actor(r)
	if !s.enforce(w, r, policy.AdminOrSuperuser, actor, nil) {
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteCategory(slug); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(r)
	if !s.enforce(w, r, catalogPolicy, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit, offset := pageParams(r)
		genres, total, err := s.app.ListGenres(r.URL.Query().Get("search"), limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, genres, total)
	case http.MethodPost:
		var req nameSlugRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		genre, err := s.app.CreateGenre(req.Name, req.Slug)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, genre)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleGenreBySlug(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimPrefix(r.URL.Path, "/api/v1/genres/")
	if slug == "" || strings.Contains(slug, "/") {
		http.NotFound(w, r)
		return
	}
	actor := s.actor(r)
	if !s.enforce(w, r, policy.AdminOrSuperuser, actor, nil) {
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteGenre(slug); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// title handlers
func (s *Server) handleTitles(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(r)
	if !s.enforce(w, r, catalogPolicy, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		year, _ := strconv.Atoi(q.Get("year"))
		filter := store.TitleFilter{
			Name:         q.Get("name"),
			Year:         year,
			CategorySlug: q.Get("category"),
			GenreSlug:    q.Get("genre"),
		}
		limit, offset := pageParams(r)
		titles, total, err := s.app.ListTitles(filter, limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, titles, total)
	case http.MethodPost:
		var req titleRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		title, err := s.app.CreateTitle(app.TitleDraft{
			Name:         req.Name,
			Year:         req.Year,
			Description:  req.Description,
			CategorySlug: req.Category,
			GenreSlugs:   req.Genre,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, title)
	default:
		methodNotAllowed(w)
	}
}

// handleTitleSubtree routes /api/v1/titles/{id} and the review and
// comment resources nested under it.
func (s *Server) handleTitleSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/titles/"), "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	titleID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleTitleByID(w, r, titleID)
	case len(parts) == 2 && parts[1] == "reviews":
		s.handleReviews(w, r, titleID)
	case len(parts) == 3 && parts[1] == "reviews":
		s.handleReviewByID(w, r, titleID, parts[2])
	case len(parts) == 4 && parts[1] == "reviews" && parts[3] == "comments":
		s.handleComments(w, r, titleID, parts[2])
	case len(parts) == 5 && parts[1] == "reviews" && parts[3] == "comments":
		s.handleCommentByID(w, r, titleID, parts[2], parts[4])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTitleByID(w http.ResponseWriter, r *http.Request, titleID string) {
	actor := s.actor(r)
	if !s.enforce(w, r, catalogPolicy, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		title, err := s.app.GetTitle(titleID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, title)
	case http.MethodPatch:
		var req titleUpdateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		title, err := s.app.UpdateTitle(titleID, app.TitleUpdate{
			Name:         req.Name,
			Year:         req.Year,
			Description:  req.Description,
			CategorySlug: req.Category,
			GenreSlugs:   req.Genre,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, title)
	case http.MethodDelete:
		if err := s.app.DeleteTitle(titleID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// review handlers
func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request, titleID string) {
	actor := s.actor(r)
	if !s.enforce(w, r, contentPolicy, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit, offset := pageParams(r)
		reviews, total, err := s.app.ListReviews(titleID, limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, reviews, total)
	case http.MethodPost:
		var req reviewRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		review, err := s.app.CreateReview(actor.User, titleID, req.Score, req.Text)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, review)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleReviewByID(w http.ResponseWriter, r *http.Request, titleID, reviewID string) {
	actor := s.actor(r)
	switch r.Method {
	case http.MethodGet:
		review, err := s.app.GetReview(titleID, reviewID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, review)
	case http.MethodPatch:
		// Object-level check: fetch first so an absent review is a 404
		// rather than a 403.
		review, err := s.app.GetReview(titleID, reviewID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !s.enforce(w, r, contentPolicy, actor, review) {
			return
		}
		var req reviewUpdateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateReview(titleID, reviewID, req.Score, req.Text)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		review, err := s.app.GetReview(titleID, reviewID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !s.enforce(w, r, contentPolicy, actor, review) {
			return
		}
		if err := s.app.DeleteReview(titleID, reviewID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// comment handlers
func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, titleID, reviewID string) {
	actor := s.actor(r)
	if !s.enforce(w, r, contentPolicy, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit, offset := pageParams(r)
		comments, total, err := s.app.ListComments(titleID, reviewID, limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, comments, total)
	case http.MethodPost:
		var req commentRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := s.app.CreateComment(actor.User, titleID, reviewID, req.Text)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCommentByID(w http.ResponseWriter, r *http.Request, titleID, reviewID, commentID string) {
	actor := s.actor(r)
	switch r.Method {
	case http.MethodGet:
		comment, err := s.app.GetComment(titleID, reviewID, commentID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)
	case http.MethodPatch:
		comment, err := s.app.GetComment(titleID, reviewID, commentID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !s.enforce(w, r, contentPolicy, actor, comment) {
			return
		}
		var req commentRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateComment(titleID, reviewID, commentID, req.Text)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		comment, err := s.app.GetComment(titleID, reviewID, commentID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !s.enforce(w, r, contentPolicy, actor, comment) {
			return
		}
		if err := s.app.DeleteComment(titleID, reviewID, commentID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type nameSlugRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type titleRequest struct {
	Name        string   `json:"name"`
	Year        int      `json:"year"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Genre       []string `json:"genre"`
}

type titleUpdateRequest struct {
	Name        *string   `json:"name"`
	Year        *int      `json:"year"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Genre       *[]string `json:"genre"`
}

type reviewRequest struct {
	Score int    `json:"score"`
	Text  string `json:"text"`
}

type reviewUpdateRequest struct {
	Score *int    `json:"score"`
	Text  *string `json:"text"`
}

type commentRequest struct {
	Text string `json:"text"`
}
