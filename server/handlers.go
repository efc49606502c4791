package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/engine"
)

const (
	msgNoRecommendations = "No recommendations available at this time"
	msgUserNotFound      = "User not found"
	msgForbidden         = "Unauthorized access"
	defaultSimilarK      = 10
)

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	IsAdmin  bool   `json:"isAdmin"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type addMovieRequest struct {
	UserID int64  `json:"userId" validate:"required"`
	Title  string `json:"title" validate:"required"`
	Genres string `json:"genres" validate:"required"`
}

type rateMovieRequest struct {
	UserID  int64    `json:"userId" validate:"required"`
	MovieID int64    `json:"movieId" validate:"required"`
	Rating  *float64 `json:"rating" validate:"required"`
}

type recommendResponse struct {
	UserID          int64                   `json:"userId"`
	Strategy        engine.Strategy         `json:"strategy"`
	Recommendations []engine.Recommendation `json:"recommendations"`
	Message         string                  `json:"message,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Stats()
	status, code := "ok", http.StatusOK
	if st.Stale {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "stats": st})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.accounts.Register(r.Context(), req.Username, req.Password, req.IsAdmin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User registered successfully!",
		"userId":  id,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ident, err := s.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  ident.UserID,
		"isAdmin": ident.IsAdmin,
		"message": "Login successful",
	})
}

func (s *Server) recommend(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathID(w, r, "userId")
	if !ok {
		return
	}
	topN, ok := s.queryInt(w, r, "top_n", 0)
	if !ok {
		return
	}
	if s.maxTopN > 0 && topN > s.maxTopN {
		topN = s.maxTopN
	}
	if !s.requireUser(w, r, userID) {
		return
	}

	res := s.engine.GetRecommendations(r.Context(), userID, topN)
	resp := recommendResponse{
		UserID:          res.UserID,
		Strategy:        res.Strategy,
		Recommendations: res.Items,
	}
	if len(res.Items) == 0 {
		resp.Message = msgNoRecommendations
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) rateMovie(w http.ResponseWriter, r *http.Request) {
	var req rateMovieRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RateMovie(r.Context(), req.UserID, req.MovieID, *req.Rating); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Rating submitted successfully")
}

func (s *Server) userRatings(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathID(w, r, "userId")
	if !ok {
		return
	}
	if !s.requireUser(w, r, userID) {
		return
	}
	ratings, err := s.engine.UserRatings(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ratings": ratings})
}

func (s *Server) similarMovies(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.pathID(w, r, "movieId")
	if !ok {
		return
	}
	k, ok := s.queryInt(w, r, "k", defaultSimilarK)
	if !ok {
		return
	}
	if s.maxTopN > 0 && k > s.maxTopN {
		k = s.maxTopN
	}
	similar, err := s.engine.SimilarMovies(r.Context(), movieID, k)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movieId": movieID, "similar": similar})
}

func (s *Server) addMovie(w http.ResponseWriter, r *http.Request) {
	var req addMovieRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.requireAdmin(w, r, req.UserID) {
		return
	}
	m, err := s.engine.AddMovie(r.Context(), req.Title, req.Genres)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Movie added successfully!",
		"movieId": m.ID,
	})
}

func (s *Server) deleteMovie(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.pathID(w, r, "movieId")
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	if !s.requireAdmin(w, r, userID) {
		return
	}
	if err := s.engine.DeleteMovie(r.Context(), movieID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Movie deleted successfully!")
}

// pathID 解析路径中的整数 ID，失败时已写入 400。
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt 解析可选的非负整数查询参数。
func (s *Server) queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request, userID int64) bool {
	ok, err := s.engine.HasUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return false
	}
	if !ok {
		writeMessage(w, http.StatusNotFound, msgUserNotFound)
		return false
	}
	return true
}

// requireAdmin 校验用户为管理员；用户不存在或不是管理员都返回 403。
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request, userID int64) bool {
	admin, err := s.accounts.IsAdmin(r.Context(), userID)
	if err != nil && !core.IsUnknownID(err) {
		s.writeError(w, r, err)
		return false
	}
	if !admin {
		writeMessage(w, http.StatusForbidden, msgForbidden)
		return false
	}
	return true
}
