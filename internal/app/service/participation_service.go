package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
	"course_zone/internal/domain/repository"
	"course_zone/internal/platform/config"
	"course_zone/internal/scoring/format"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxJoinAttempts bounds the optimistic retry loop for virtual joins.
const maxJoinAttempts = 5

type ParticipationService struct {
	courseRepo repository.CourseRepository
	partRepo   repository.ParticipationRepository
	subRepo    repository.CourseSubmissionRepository
	userRepo   repository.UserRepository
	rdb        *redis.Client
	db         *sql.DB // For transactions

	now func() time.Time
}

func NewParticipationService(
	courseRepo repository.CourseRepository,
	partRepo repository.ParticipationRepository,
	subRepo repository.CourseSubmissionRepository,
	userRepo repository.UserRepository,
	rdb *redis.Client,
	db *sql.DB,
) *ParticipationService {
	return &ParticipationService{
		courseRepo: courseRepo,
		partRepo:   partRepo,
		subRepo:    subRepo,
		userRepo:   userRepo,
		rdb:        rdb,
		db:         db,
		now:        time.Now,
	}
}

// completedCourse reports whether the user's live participation in the course
// has already ended.
func (s *ParticipationService) completedCourse(ctx context.Context, c *model.Course, u *model.User, now time.Time) (bool, error) {
	p, err := s.partRepo.Get(ctx, c.ID, u.ID, model.VirtualLive)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Ended(c, now), nil
}

// Join enters the user into the course, per the lifecycle rules: virtual
// attempts after the course ends, live or spectate while it runs. The whole
// decision is made against one "now" snapshot.
func (s *ParticipationService) Join(ctx context.Context, c *model.Course, u *model.User, accessCode string) (*model.CourseParticipation, error) {
	now := s.now()

	if !c.Started(now) && !(c.IsEditor(u) || c.IsTester(u)) {
		return nil, ErrNotOngoing
	}
	if c.IsBanned(u) && !u.IsSuperuser {
		return nil, common.Errorf("user is banned from this course: %w", common.ErrForbidden)
	}
	if err := s.checkAccessCode(c, u, accessCode); err != nil {
		return nil, err
	}

	var p *model.CourseParticipation
	var err error
	if c.Ended(now) {
		p, err = s.joinVirtual(ctx, c, u, now)
	} else {
		p, err = s.joinOngoing(ctx, c, u, accessCode, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.SetCurrentParticipation(ctx, nil, u.ID, &p.ID); err != nil {
		return nil, common.Errorf("failed to set current participation: %w", err)
	}
	u.CurrentParticipationID = &p.ID

	if err := s.updateUserCount(ctx, c.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ParticipationService) checkAccessCode(c *model.Course, u *model.User, accessCode string) error {
	if c.AccessCode == "" || accessCode == c.AccessCode {
		return nil
	}
	if u.Authenticated() && c.IsEditableBy(u) {
		return nil
	}
	return ErrAccessDenied
}

// joinVirtual creates the next practice attempt. The virtual index is derived
// from storage each attempt and the insert retried on conflict, so concurrent
// joins settle on distinct consecutive indices without locking.
func (s *ParticipationService) joinVirtual(ctx context.Context, c *model.Course, u *model.User, now time.Time) (*model.CourseParticipation, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		max, err := s.partRepo.MaxVirtual(ctx, c.ID, u.ID)
		if err != nil {
			return nil, common.Errorf("failed to find max virtual index: %w", err)
		}
		p := &model.CourseParticipation{
			ID:        uuid.NewString(),
			CourseID:  c.ID,
			UserID:    u.ID,
			RealStart: now,
			Virtual:   max + 1,
			Username:  u.Username,
		}
		err = s.partRepo.Create(ctx, nil, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, common.ErrConflict) {
			return nil, common.Errorf("failed to create virtual participation: %w", err)
		}
	}
	return nil, common.Errorf("could not allocate a virtual participation: %w", common.ErrConflict)
}

// joinOngoing picks live or spectate mode and gets-or-creates the row. An
// existing participation whose window already closed falls back to spectate.
func (s *ParticipationService) joinOngoing(ctx context.Context, c *model.Course, u *model.User, accessCode string, now time.Time) (*model.CourseParticipation, error) {
	completed, err := s.completedCourse(ctx, c, u, now)
	if err != nil {
		return nil, err
	}

	var virtual int
	switch {
	case c.IsLiveJoinableBy(u, completed, now):
		virtual = model.VirtualLive
	case c.IsSpectatableBy(u):
		virtual = model.VirtualSpectate
	default:
		return nil, ErrCannotJoin
	}

	p, err := s.getOrCreate(ctx, c, u, virtual, accessCode, now)
	if err != nil {
		return nil, err
	}
	if virtual != model.VirtualSpectate && p.Ended(c, now) {
		// Their window closed mid-course; let them watch instead.
		return s.getOrCreate(ctx, c, u, model.VirtualSpectate, accessCode, now)
	}
	return p, nil
}

func (s *ParticipationService) getOrCreate(ctx context.Context, c *model.Course, u *model.User, virtual int, accessCode string, now time.Time) (*model.CourseParticipation, error) {
	p, err := s.partRepo.Get(ctx, c.ID, u.ID, virtual)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, common.Errorf("failed to look up participation: %w", err)
	}

	// Re-check the access code right before insert: a concurrent code-free
	// path must not slip a row in under us.
	if err := s.checkAccessCode(c, u, accessCode); err != nil {
		return nil, err
	}
	p = &model.CourseParticipation{
		ID:        uuid.NewString(),
		CourseID:  c.ID,
		UserID:    u.ID,
		RealStart: now,
		Virtual:   virtual,
		Username:  u.Username,
	}
	err = s.partRepo.Create(ctx, nil, p)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, common.ErrConflict) {
		// Lost the race to ourselves; the row exists now.
		return s.partRepo.Get(ctx, c.ID, u.ID, virtual)
	}
	return nil, common.Errorf("failed to create participation: %w", err)
}

// Leave clears the user's current-course pointer. The participation row stays;
// the live user count is refreshed separately by UpdateUserCount callers.
func (s *ParticipationService) Leave(ctx context.Context, c *model.Course, u *model.User) error {
	if u.CurrentParticipationID == nil {
		return ErrNotInCourse
	}
	p, err := s.partRepo.GetByID(ctx, *u.CurrentParticipationID)
	if err != nil || p.CourseID != c.ID {
		return ErrNotInCourse
	}
	if err := s.userRepo.SetCurrentParticipation(ctx, nil, u.ID, nil); err != nil {
		return common.Errorf("failed to clear current participation: %w", err)
	}
	u.CurrentParticipationID = nil
	return nil
}

// SetDisqualified flips the flag and keeps the ban list in sync, atomically.
// Disqualification forces the sentinel results; requalification recomputes real
// ones from the submission history.
func (s *ParticipationService) SetDisqualified(ctx context.Context, actor *model.User, participationID string, disqualified bool) error {
	p, err := s.partRepo.GetByID(ctx, participationID)
	if err != nil {
		return err
	}
	c, err := s.courseRepo.FindByID(ctx, p.CourseID)
	if err != nil {
		return err
	}
	if !c.IsEditableBy(actor) {
		return common.Errorf("user may not disqualify participants: %w", common.ErrForbidden)
	}

	p.IsDisqualified = disqualified
	subs, err := s.subRepo.ListByParticipation(ctx, p.ID)
	if err != nil {
		return common.Errorf("failed to load submissions: %w", err)
	}

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.recompute(ctx, tx, c, p, subs); err != nil {
			return err
		}
		memberOp := s.courseRepo.AddMember
		if !disqualified {
			memberOp = s.courseRepo.RemoveMember
		}
		if err := memberOp(ctx, tx, c.ID, p.UserID, repository.MemberBanned); err != nil {
			return common.Errorf("failed to sync ban list: %w", err)
		}
		if disqualified {
			user, err := s.userRepo.FindByID(ctx, p.UserID)
			if err != nil {
				return err
			}
			if user.CurrentParticipationID != nil && *user.CurrentParticipationID == p.ID {
				if err := s.userRepo.SetCurrentParticipation(ctx, tx, p.UserID, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if c.IsRated {
		s.enqueueRerate(ctx, c.ID)
	}
	return nil
}

func (s *ParticipationService) enqueueRerate(ctx context.Context, courseID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.LPush(ctx, config.AppConfig.RerateQueueName, courseID).Err(); err != nil {
		log.Printf("Failed to enqueue rerate for course %s: %v", courseID, err)
	}
}

// recompute runs the course's format over the submission history and persists
// the results. Disqualified rows get the sentinel values regardless of score.
func (s *ParticipationService) recompute(ctx context.Context, tx *sql.Tx, c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) error {
	f, err := format.New(c.FormatName, c.FormatConfig)
	if err != nil {
		return err
	}
	f.UpdateParticipation(c, p, subs)
	if p.IsDisqualified {
		p.Score = model.DisqualifiedScore
		p.CumTime = 0
		p.Tiebreaker = 0
	}
	if err := s.partRepo.Update(ctx, tx, p); err != nil {
		return common.Errorf("failed to persist recomputed results: %w", err)
	}
	return nil
}

// RecomputeResults rescoring one participation from scratch.
func (s *ParticipationService) RecomputeResults(ctx context.Context, participationID string) error {
	p, err := s.partRepo.GetByID(ctx, participationID)
	if err != nil {
		return err
	}
	c, err := s.courseRepo.FindByID(ctx, p.CourseID)
	if err != nil {
		return err
	}
	subs, err := s.subRepo.ListByParticipation(ctx, p.ID)
	if err != nil {
		return common.Errorf("failed to load submissions: %w", err)
	}
	return s.recompute(ctx, nil, c, p, subs)
}

// RescoreCourse recomputes every participation of a course. It is idempotent,
// so the worker may safely run it more than once for the same course.
func (s *ParticipationService) RescoreCourse(ctx context.Context, courseID string) error {
	c, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return err
	}
	parts, err := s.partRepo.ListByCourse(ctx, courseID)
	if err != nil {
		return common.Errorf("failed to list participations: %w", err)
	}
	for i := range parts {
		p := &parts[i]
		subs, err := s.subRepo.ListByParticipation(ctx, p.ID)
		if err != nil {
			return common.Errorf("failed to load submissions for %s: %w", p.ID, err)
		}
		if err := s.recompute(ctx, nil, c, p, subs); err != nil {
			return err
		}
	}
	log.Printf("Rescored %d participations for course %s.", len(parts), c.Key)
	return nil
}

// JudgedSubmission is the webhook payload the judge posts after grading.
type JudgedSubmission struct {
	SubmissionID    string    `json:"submission_id" validate:"required"`
	CourseProblemID string    `json:"course_problem_id" validate:"required"`
	ParticipationID string    `json:"participation_id" validate:"required"`
	Points          float64   `json:"points" validate:"gte=0"`
	IsPretest       bool      `json:"is_pretest"`
	SubmittedAt     time.Time `json:"submitted_at" validate:"required"`
}

// RecordJudgedSubmission captures a judged result and recomputes the owning
// participation. Results landing past the course lock are refused.
func (s *ParticipationService) RecordJudgedSubmission(ctx context.Context, js JudgedSubmission) error {
	p, err := s.partRepo.GetByID(ctx, js.ParticipationID)
	if err != nil {
		return err
	}
	c, err := s.courseRepo.FindByID(ctx, p.CourseID)
	if err != nil {
		return err
	}
	if c.LockedAfter != nil && js.SubmittedAt.After(*c.LockedAfter) {
		return common.Errorf("course submissions are locked: %w", common.ErrForbidden)
	}
	if cp := c.ProblemByID(js.CourseProblemID); cp != nil && cp.MaxSubmissions != nil {
		count, err := s.subRepo.CountByProblem(ctx, p.ID, cp.ID)
		if err != nil {
			return common.Errorf("failed to count problem submissions: %w", err)
		}
		if count >= *cp.MaxSubmissions {
			recorded, err := s.submissionRecorded(ctx, p.ID, js.SubmissionID)
			if err != nil {
				return err
			}
			if !recorded {
				return common.Errorf("submission limit reached for this problem: %w", common.ErrForbidden)
			}
		}
	}

	cs := &model.CourseSubmission{
		ID:              uuid.NewString(),
		SubmissionID:    js.SubmissionID,
		CourseProblemID: js.CourseProblemID,
		ParticipationID: js.ParticipationID,
		Points:          js.Points,
		IsPretest:       js.IsPretest,
		SubmittedAt:     js.SubmittedAt,
	}
	if err := s.subRepo.Upsert(ctx, nil, cs); err != nil {
		return err
	}
	subs, err := s.subRepo.ListByParticipation(ctx, p.ID)
	if err != nil {
		return common.Errorf("failed to load submissions: %w", err)
	}
	return s.recompute(ctx, nil, c, p, subs)
}

// submissionRecorded reports whether the submission already counts toward the
// problem's limit, so a re-judge is never refused by the cap.
func (s *ParticipationService) submissionRecorded(ctx context.Context, participationID, submissionID string) (bool, error) {
	subs, err := s.subRepo.ListByParticipation(ctx, participationID)
	if err != nil {
		return false, common.Errorf("failed to load submissions: %w", err)
	}
	for i := range subs {
		if subs[i].SubmissionID == submissionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *ParticipationService) updateUserCount(ctx context.Context, courseID string) error {
	count, err := s.partRepo.CountLive(ctx, courseID)
	if err != nil {
		return common.Errorf("failed to count live participations: %w", err)
	}
	if err := s.courseRepo.SetUserCount(ctx, courseID, count); err != nil {
		return common.Errorf("failed to update user count: %w", err)
	}
	return nil
}
