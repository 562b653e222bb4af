// Package worker hosts the background rescore loop. A course save that changes
// the scoring format enqueues the course ID; this worker drains the queue and
// recomputes every participation of the course. The recompute is idempotent,
// so at-least-once delivery is safe.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"course_zone/internal/app/service"
	"course_zone/internal/platform/config"

	"github.com/redis/go-redis/v9"
)

type RescoreWorker struct {
	rdb          *redis.Client
	participants *service.ParticipationService
}

func NewRescoreWorker(rdb *redis.Client, participants *service.ParticipationService) *RescoreWorker {
	return &RescoreWorker{rdb: rdb, participants: participants}
}

func (w *RescoreWorker) Start(ctx context.Context) {
	log.Println("Rescore worker started, listening to queue:", config.AppConfig.RescoreQueueName)
	for {
		select {
		case <-ctx.Done():
			log.Println("Rescore worker stopping...")
			return
		default:
			res, err := w.rdb.BRPop(ctx, 0*time.Second, config.AppConfig.RescoreQueueName).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					log.Printf("Rescore worker BRPop exiting or timed out: %v", err)
					time.Sleep(1 * time.Second)
					continue
				}
				log.Printf("ERROR: Failed to BRPop from Redis queue '%s': %v", config.AppConfig.RescoreQueueName, err)
				time.Sleep(5 * time.Second)
				continue
			}
			if len(res) < 2 || res[1] == "" {
				log.Println("WARN: BRPop returned empty course ID.")
				continue
			}
			w.process(ctx, res[1])
		}
	}
}

func (w *RescoreWorker) process(ctx context.Context, courseID string) {
	log.Printf("Rescore worker picked up course %s", courseID)
	if err := w.participants.RescoreCourse(ctx, courseID); err != nil {
		// Re-queue so the rescore is not lost; a repeat run is harmless.
		log.Printf("ERROR: Rescore of course %s failed: %v. Re-queueing.", courseID, err)
		if err := w.rdb.RPush(ctx, config.AppConfig.RescoreQueueName, courseID).Err(); err != nil {
			log.Printf("ERROR: Failed to re-queue course %s: %v", courseID, err)
		}
	}
}
