package api

import (
	"net/http"
	"time"

	"course_zone/internal/api/handler"
	"course_zone/internal/app/service"
	"course_zone/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	authService *service.AuthService,
	courseService *service.CourseService,
	partService *service.ParticipationService,
	rankingService *service.RankingService,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies a token when present and puts claims in context; route groups
	// decide whether authentication is required.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		authHandler := handler.NewAuthHandler(authService)
		v1.Group(func(publicAuth chi.Router) {
			authHandler.RegisterRoutes(publicAuth)
		})

		courseHandler := handler.NewCourseHandler(authService, courseService, partService, rankingService)
		v1.Route("/courses", courseHandler.RegisterRoutes)

		webhookHandler := handler.NewJudgeWebhookHandler(partService)
		v1.Route("/webhook", webhookHandler.RegisterRoutes)
	})

	return r
}
