package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course_zone/internal/api"
	"course_zone/internal/app/service"
	"course_zone/internal/app/worker"
	"course_zone/internal/common/security"
	"course_zone/internal/domain/repository"
	"course_zone/internal/platform/config"
	"course_zone/internal/platform/database"
	"course_zone/internal/platform/queue"
)

func main() {
	config.Load()
	fmt.Println("Configuration loaded.")

	security.InitJWT()
	fmt.Println("JWT initialized.")

	database.Connect()
	defer database.Close()
	fmt.Println("Database connected.")

	queue.ConnectRedis()
	defer queue.CloseRedis()
	fmt.Println("Redis connected.")

	userRepo := repository.NewPgUserRepository(database.DB)
	courseRepo := repository.NewPgCourseRepository(database.DB)
	partRepo := repository.NewPgParticipationRepository(database.DB)
	subRepo := repository.NewPgCourseSubmissionRepository(database.DB)

	authService := service.NewAuthService(userRepo)
	courseService := service.NewCourseService(courseRepo, partRepo, subRepo, queue.RDB, database.DB)
	partService := service.NewParticipationService(courseRepo, partRepo, subRepo, userRepo, queue.RDB, database.DB)
	rankingService := service.NewRankingService(courseRepo, partRepo)

	rescoreWorker := worker.NewRescoreWorker(queue.RDB, partService)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go rescoreWorker.Start(workerCtx)
	fmt.Println("Rescore worker started.")

	router := api.NewRouter(authService, courseService, partService, rankingService)

	server := &http.Server{
		Addr:         ":" + config.AppConfig.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop

	log.Println("Shutting down server...")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server and worker stopped gracefully.")
}
