package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"course_zone/internal/domain/model"
)

type CourseSubmissionRepository struct {
	mu   sync.RWMutex
	rows map[string]*model.CourseSubmission // keyed by submission ID
}

func NewCourseSubmissionRepository() *CourseSubmissionRepository {
	return &CourseSubmissionRepository{rows: map[string]*model.CourseSubmission{}}
}

func (r *CourseSubmissionRepository) Upsert(ctx context.Context, tx *sql.Tx, cs *model.CourseSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[cs.SubmissionID]; ok {
		existing.Points = cs.Points
		existing.IsPretest = cs.IsPretest
		return nil
	}
	row := *cs
	r.rows[cs.SubmissionID] = &row
	return nil
}

func (r *CourseSubmissionRepository) ListByParticipation(ctx context.Context, participationID string) ([]model.CourseSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.CourseSubmission{}
	for _, cs := range r.rows {
		if cs.ParticipationID == participationID {
			out = append(out, *cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (r *CourseSubmissionRepository) CountByProblem(ctx context.Context, participationID, courseProblemID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, cs := range r.rows {
		if cs.ParticipationID == participationID && cs.CourseProblemID == courseProblemID {
			n++
		}
	}
	return n, nil
}

func (r *CourseSubmissionRepository) SetLockedAfter(ctx context.Context, tx *sql.Tx, courseID string, lockedAfter *time.Time) error {
	return nil
}
