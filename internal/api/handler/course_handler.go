package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"course_zone/internal/api/middleware"
	"course_zone/internal/app/service"
	"course_zone/internal/common"
	"course_zone/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type CourseHandler struct {
	authService    *service.AuthService
	courseService  *service.CourseService
	partService    *service.ParticipationService
	rankingService *service.RankingService
}

func NewCourseHandler(
	authService *service.AuthService,
	courseService *service.CourseService,
	partService *service.ParticipationService,
	rankingService *service.RankingService,
) *CourseHandler {
	return &CourseHandler{
		authService:    authService,
		courseService:  courseService,
		partService:    partService,
		rankingService: rankingService,
	}
}

func (h *CourseHandler) RegisterRoutes(r chi.Router) {
	// Public views; the access policy decides per viewer.
	r.Group(func(public chi.Router) {
		public.Use(middleware.Identify)
		public.Get("/", h.list)
		public.Get("/{key}", h.get)
		public.Get("/{key}/ranking", h.ranking)
	})

	r.Group(func(auth chi.Router) {
		auth.Use(middleware.Authenticator)
		auth.Post("/", h.create)
		auth.Put("/{key}", h.update)
		auth.Post("/{key}/join", h.join)
		auth.Post("/{key}/leave", h.leave)
		auth.Post("/{key}/clone", h.clone)
		auth.Post("/{key}/lock", h.lock)
		auth.Delete("/{key}/lock", h.unlock)
		auth.Post("/{key}/theories", h.addTheories)
		auth.Post("/{key}/tests", h.addTests)
		auth.Post("/participations/{id}/disqualify", h.disqualify)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.Authenticator, middleware.AdminOnly)
		admin.Post("/visibility", h.setVisibility)
	})
}

// currentUser resolves the viewer; nil means anonymous.
func (h *CourseHandler) currentUser(r *http.Request) (*model.User, error) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return nil, nil
	}
	return h.authService.CurrentUser(r.Context(), userID)
}

// requireUser is currentUser for authenticated-only routes.
func (h *CourseHandler) requireUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := h.currentUser(r)
	if err != nil || user == nil {
		common.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}
	return user
}

// respondAccessError maps the access-policy failures: an inaccessible course
// presents as not found, a private one as a denial with structured detail.
func respondAccessError(w http.ResponseWriter, err error) {
	var pce *model.PrivateCourseError
	switch {
	case errors.Is(err, model.ErrInaccessible):
		common.RespondWithError(w, http.StatusNotFound, "Course not found")
	case errors.As(err, &pce):
		common.RespondWithErrorDetails(w, http.StatusForbidden, pce.Error(), pce)
	default:
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
	}
}

func (h *CourseHandler) list(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.currentUser(r)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	lists, err := h.courseService.ListCourses(r.Context(), viewer)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, lists)
}

func (h *CourseHandler) get(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.currentUser(r)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	c, err := h.courseService.GetCourse(r.Context(), chi.URLParam(r, "key"), viewer)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	if !c.IsEditableBy(viewer) {
		c.AccessCode = "" // never leak the code to non-editors
	}
	common.RespondWithJSON(w, http.StatusOK, c)
}

func (h *CourseHandler) ranking(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.currentUser(r)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	list, err := h.rankingService.BuildRanking(r.Context(), chi.URLParam(r, "key"), viewer)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, list)
}

type CourseProblemRequest struct {
	ProblemID      string `json:"problem_id" validate:"required"`
	Points         int    `json:"points" validate:"gte=0"`
	Partial        bool   `json:"partial"`
	IsPretested    bool   `json:"is_pretested"`
	Order          int    `json:"order" validate:"gte=0"`
	MaxSubmissions *int   `json:"max_submissions,omitempty"`
}

type CourseRequest struct {
	Key                    string                 `json:"key"`
	Name                   string                 `json:"name" validate:"required"`
	StartTime              time.Time              `json:"start_time" validate:"required"`
	EndTime                time.Time              `json:"end_time" validate:"required"`
	TimeLimitSeconds       *int64                 `json:"time_limit_seconds,omitempty"`
	IsVisible              bool                   `json:"is_visible"`
	IsRated                bool                   `json:"is_rated"`
	IsPrivate              bool                   `json:"is_private"`
	IsOrganizationPrivate  bool                   `json:"is_organization_private"`
	ScoreboardVisibility   string                 `json:"scoreboard_visibility" validate:"omitempty,oneof=V C P H"`
	TesterSeeScoreboard    bool                   `json:"tester_see_scoreboard"`
	LimitJoinOrganizations bool                   `json:"limit_join_organizations"`
	AccessCode             string                 `json:"access_code"`
	FormatName             string                 `json:"format_name"`
	FormatConfig           json.RawMessage        `json:"format_config,omitempty"`
	ProblemLabelScript     string                 `json:"problem_label_script"`
	PointsPrecision        int                    `json:"points_precision" validate:"gte=0"`
	Problems               []CourseProblemRequest `json:"problems"`
}

func (req *CourseRequest) toModel(id string) *model.Course {
	c := &model.Course{
		ID:                     id,
		Key:                    req.Key,
		Name:                   req.Name,
		StartTime:              req.StartTime,
		EndTime:                req.EndTime,
		IsVisible:              req.IsVisible,
		IsRated:                req.IsRated,
		IsPrivate:              req.IsPrivate,
		IsOrganizationPrivate:  req.IsOrganizationPrivate,
		ScoreboardVisibility:   model.ScoreboardVisibility(req.ScoreboardVisibility),
		TesterSeeScoreboard:    req.TesterSeeScoreboard,
		LimitJoinOrganizations: req.LimitJoinOrganizations,
		AccessCode:             req.AccessCode,
		FormatName:             req.FormatName,
		FormatConfig:           req.FormatConfig,
		ProblemLabelScript:     req.ProblemLabelScript,
		PointsPrecision:        req.PointsPrecision,
	}
	if c.ScoreboardVisibility == "" {
		c.ScoreboardVisibility = model.ScoreboardVisible
	}
	if req.TimeLimitSeconds != nil {
		d := time.Duration(*req.TimeLimitSeconds) * time.Second
		c.TimeLimit = &d
	}
	for _, p := range req.Problems {
		c.Problems = append(c.Problems, model.CourseProblem{
			ProblemID:      p.ProblemID,
			Points:         p.Points,
			Partial:        p.Partial,
			IsPretested:    p.IsPretested,
			Order:          p.Order,
			MaxSubmissions: p.MaxSubmissions,
		})
	}
	return c
}

func (h *CourseHandler) create(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req CourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	c, err := h.courseService.CreateCourse(r.Context(), user, req.toModel(""))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, c)
}

func (h *CourseHandler) update(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	existing, err := h.courseService.GetCourse(r.Context(), chi.URLParam(r, "key"), user)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	var req CourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	c := req.toModel(existing.ID)
	c.Key = existing.Key // the key is immutable after create
	updated, err := h.courseService.UpdateCourse(r.Context(), user, c)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, updated)
}

type JoinRequest struct {
	AccessCode string `json:"access_code"`
}

func (h *CourseHandler) join(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req JoinRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
			return
		}
	}
	c, err := h.courseService.GetCourse(r.Context(), chi.URLParam(r, "key"), user)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	p, err := h.partService.Join(r.Context(), c, user, req.AccessCode)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, p)
}

func (h *CourseHandler) leave(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	c, err := h.courseService.GetCourse(r.Context(), chi.URLParam(r, "key"), user)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	if err := h.partService.Leave(r.Context(), c, user); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

type CloneRequest struct {
	NewKey  string `json:"new_key"`
	NewName string `json:"new_name" validate:"required"`
}

func (h *CourseHandler) clone(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req CloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	clone, err := h.courseService.CloneCourse(r.Context(), user, chi.URLParam(r, "key"), req.NewKey, req.NewName)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, clone)
}

type LockRequest struct {
	LockedAfter time.Time `json:"locked_after" validate:"required"`
}

func (h *CourseHandler) lock(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	if err := h.courseService.SetCourseLock(r.Context(), user, chi.URLParam(r, "key"), &req.LockedAfter); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (h *CourseHandler) unlock(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	if err := h.courseService.SetCourseLock(r.Context(), user, chi.URLParam(r, "key"), nil); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

type AttachPostsRequest struct {
	PostIDs []string `json:"post_ids" validate:"required,min=1"`
}

func (h *CourseHandler) addTheories(w http.ResponseWriter, r *http.Request) {
	h.attachPosts(w, r, h.courseService.AddTheories)
}

func (h *CourseHandler) addTests(w http.ResponseWriter, r *http.Request) {
	h.attachPosts(w, r, h.courseService.AddTests)
}

func (h *CourseHandler) attachPosts(w http.ResponseWriter, r *http.Request, attach func(ctx context.Context, editor *model.User, key string, ids []string) error) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req AttachPostsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	if err := attach(r.Context(), user, chi.URLParam(r, "key"), req.PostIDs); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, map[string]string{"status": "attached"})
}

type DisqualifyRequest struct {
	Disqualified bool `json:"disqualified"`
}

func (h *CourseHandler) disqualify(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req DisqualifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := h.partService.SetDisqualified(r.Context(), user, chi.URLParam(r, "id"), req.Disqualified); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type VisibilityRequest struct {
	CourseIDs []string `json:"course_ids" validate:"required,min=1"`
	Visible   bool     `json:"visible"`
}

func (h *CourseHandler) setVisibility(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	op := h.courseService.MakeHidden
	if req.Visible {
		op = h.courseService.MakeVisible
	}
	n, err := op(r.Context(), user, req.CourseIDs)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
