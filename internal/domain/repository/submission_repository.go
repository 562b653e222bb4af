package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"course_zone/internal/domain/model"
)

type CourseSubmissionRepository interface {
	// Upsert records the judged result for a submission, replacing any earlier
	// capture (a rejudge overwrites points in place).
	Upsert(ctx context.Context, tx *sql.Tx, cs *model.CourseSubmission) error
	ListByParticipation(ctx context.Context, participationID string) ([]model.CourseSubmission, error)
	CountByProblem(ctx context.Context, participationID, courseProblemID string) (int, error)
	// SetLockedAfter stamps every live-participation submission of the course,
	// freezing them against rejudges past the given time.
	SetLockedAfter(ctx context.Context, tx *sql.Tx, courseID string, lockedAfter *time.Time) error
}

type pgCourseSubmissionRepository struct {
	db *sql.DB
}

func NewPgCourseSubmissionRepository(db *sql.DB) CourseSubmissionRepository {
	return &pgCourseSubmissionRepository{db: db}
}

func (r *pgCourseSubmissionRepository) Upsert(ctx context.Context, tx *sql.Tx, cs *model.CourseSubmission) error {
	query := `INSERT INTO course_submissions
	              (id, submission_id, course_problem_id, participation_id, points, is_pretest, submitted_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (submission_id) DO UPDATE
	              SET points = EXCLUDED.points, is_pretest = EXCLUDED.is_pretest`
	if _, err := exec(ctx, r.db, tx, query, cs.ID, cs.SubmissionID, cs.CourseProblemID,
		cs.ParticipationID, cs.Points, cs.IsPretest, cs.SubmittedAt); err != nil {
		return fmt.Errorf("pgCourseSubmissionRepository.Upsert: %w", err)
	}
	return nil
}

func (r *pgCourseSubmissionRepository) ListByParticipation(ctx context.Context, participationID string) ([]model.CourseSubmission, error) {
	query := `SELECT id, submission_id, course_problem_id, participation_id, points, is_pretest, submitted_at
	          FROM course_submissions WHERE participation_id = $1 ORDER BY submitted_at`
	rows, err := r.db.QueryContext(ctx, query, participationID)
	if err != nil {
		return nil, fmt.Errorf("pgCourseSubmissionRepository.ListByParticipation query: %w", err)
	}
	defer rows.Close()

	subs := []model.CourseSubmission{}
	for rows.Next() {
		var cs model.CourseSubmission
		if err := rows.Scan(&cs.ID, &cs.SubmissionID, &cs.CourseProblemID, &cs.ParticipationID,
			&cs.Points, &cs.IsPretest, &cs.SubmittedAt); err != nil {
			return nil, fmt.Errorf("pgCourseSubmissionRepository.ListByParticipation scan: %w", err)
		}
		subs = append(subs, cs)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgCourseSubmissionRepository.ListByParticipation rows.Err: %w", err)
	}
	return subs, nil
}

func (r *pgCourseSubmissionRepository) CountByProblem(ctx context.Context, participationID, courseProblemID string) (int, error) {
	query := `SELECT COUNT(*) FROM course_submissions
	          WHERE participation_id = $1 AND course_problem_id = $2`
	var count int
	if err := r.db.QueryRowContext(ctx, query, participationID, courseProblemID).Scan(&count); err != nil {
		return 0, fmt.Errorf("pgCourseSubmissionRepository.CountByProblem: %w", err)
	}
	return count, nil
}

func (r *pgCourseSubmissionRepository) SetLockedAfter(ctx context.Context, tx *sql.Tx, courseID string, lockedAfter *time.Time) error {
	query := `UPDATE course_submissions cs SET locked_after = $1
	          FROM course_participations p
	          WHERE cs.participation_id = p.id AND p.course_id = $2 AND p.virtual = 0`
	if _, err := exec(ctx, r.db, tx, query, lockedAfter, courseID); err != nil {
		return fmt.Errorf("pgCourseSubmissionRepository.SetLockedAfter: %w", err)
	}
	return nil
}
