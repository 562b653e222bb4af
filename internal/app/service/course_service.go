package service

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
	"course_zone/internal/domain/repository"
	"course_zone/internal/platform/config"
	"course_zone/internal/scoring/format"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
)

type CourseService struct {
	courseRepo repository.CourseRepository
	partRepo   repository.ParticipationRepository
	subRepo    repository.CourseSubmissionRepository
	rdb        *redis.Client
	db         *sql.DB // For transactions

	labelTimeout time.Duration
	now          func() time.Time
}

func NewCourseService(
	courseRepo repository.CourseRepository,
	partRepo repository.ParticipationRepository,
	subRepo repository.CourseSubmissionRepository,
	rdb *redis.Client,
	db *sql.DB,
) *CourseService {
	timeout := 100 * time.Millisecond
	if config.AppConfig != nil {
		timeout = time.Duration(config.AppConfig.LabelScriptTimeoutMs) * time.Millisecond
	}
	return &CourseService{
		courseRepo:   courseRepo,
		partRepo:     partRepo,
		subRepo:      subRepo,
		rdb:          rdb,
		db:           db,
		labelTimeout: timeout,
		now:          time.Now,
	}
}

// validateCourse gates persistence: bad scheduling, format config or label
// script all block the save.
func (s *CourseService) validateCourse(c *model.Course) error {
	if !c.StartTime.Before(c.EndTime) {
		return common.Errorf("course must start before it ends: %w", common.ErrValidation)
	}
	if c.PointsPrecision < 0 {
		return common.Errorf("points precision must not be negative: %w", common.ErrValidation)
	}
	f, err := format.New(c.FormatName, c.FormatConfig)
	if err != nil {
		return err
	}
	if err := format.ValidateLabelScript(c, f, s.labelTimeout); err != nil {
		return err
	}
	return nil
}

func (s *CourseService) CreateCourse(ctx context.Context, creator *model.User, c *model.Course) (*model.Course, error) {
	if !creator.HasPerm(model.PermEditOwnCourses) && !creator.HasPerm(model.PermEditAllCourses) {
		return nil, common.Errorf("user may not create courses: %w", common.ErrForbidden)
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Key == "" {
		c.Key = slug.Make(c.Name)
	}
	if c.FormatName == "" {
		c.FormatName = "default"
	}
	if err := s.validateCourse(c); err != nil {
		return nil, err
	}

	for i := range c.Problems {
		if c.Problems[i].ID == "" {
			c.Problems[i].ID = uuid.NewString()
		}
		c.Problems[i].CourseID = c.ID
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.courseRepo.Create(ctx, tx, c); err != nil {
			return common.Errorf("failed to create course: %w", err)
		}
		if err := s.courseRepo.AddMember(ctx, tx, c.ID, creator.ID, repository.MemberAuthor); err != nil {
			return common.Errorf("failed to add course author: %w", err)
		}
		return s.courseRepo.CreateProblems(ctx, tx, c.Problems)
	})
	if err != nil {
		return nil, err
	}
	c.AuthorIDs = append(c.AuthorIDs, creator.ID)
	log.Printf("Course %s created by %s.", c.Key, creator.Username)
	return c, nil
}

// UpdateCourse saves an edited course. When the scoring format or its config
// changed, every participation's stored results are stale; the rescore job is
// enqueued only after the transaction commits so the worker never races an
// uncommitted course row.
func (s *CourseService) UpdateCourse(ctx context.Context, editor *model.User, c *model.Course) (*model.Course, error) {
	existing, err := s.courseRepo.FindByID(ctx, c.ID)
	if err != nil {
		return nil, common.Errorf("failed to load course: %w", err)
	}
	if !existing.IsEditableBy(editor) {
		return nil, common.Errorf("user may not edit this course: %w", common.ErrForbidden)
	}
	if err := s.validateCourse(c); err != nil {
		return nil, err
	}

	formatChanged := existing.FormatName != c.FormatName ||
		!bytes.Equal(existing.FormatConfig, c.FormatConfig)

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.courseRepo.Update(ctx, tx, c)
	})
	if err != nil {
		return nil, common.Errorf("failed to update course: %w", err)
	}

	if formatChanged {
		s.enqueueRescore(ctx, c.ID)
	}
	return c, nil
}

func (s *CourseService) enqueueRescore(ctx context.Context, courseID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.LPush(ctx, config.AppConfig.RescoreQueueName, courseID).Err(); err != nil {
		// The rescore is idempotent and can be re-enqueued by a later save, so
		// a failed push degrades to stale scoreboards rather than failing the
		// user-facing save.
		log.Printf("Failed to enqueue rescore for course %s: %v", courseID, err)
		return
	}
	log.Printf("Rescore enqueued for course %s.", courseID)
}

// GetCourse loads a course by key and applies the access policy. It returns
// model.ErrInaccessible or *model.PrivateCourseError unchanged for the HTTP
// layer to map.
func (s *CourseService) GetCourse(ctx context.Context, key string, viewer *model.User) (*model.Course, error) {
	c, err := s.courseRepo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.AccessCheck(viewer); err != nil {
		return nil, err
	}
	return c, nil
}

// CourseLists partitions visible courses for the listing page.
type CourseLists struct {
	Active   []model.Course `json:"active"`
	Upcoming []model.Course `json:"upcoming"`
	Past     []model.Course `json:"past"`
}

func (s *CourseService) ListCourses(ctx context.Context, viewer *model.User) (*CourseLists, error) {
	all, err := s.courseRepo.ListAll(ctx)
	if err != nil {
		return nil, common.Errorf("failed to list courses: %w", err)
	}
	now := s.now()
	lists := &CourseLists{
		Active:   []model.Course{},
		Upcoming: []model.Course{},
		Past:     []model.Course{},
	}
	for _, c := range all {
		if !c.IsAccessibleBy(viewer) {
			continue
		}
		switch {
		case !c.Started(now):
			lists.Upcoming = append(lists.Upcoming, c)
		case c.Ended(now):
			lists.Past = append(lists.Past, c)
		default:
			lists.Active = append(lists.Active, c)
		}
	}
	return lists, nil
}

// CloneCourse copies a course with its problem, theory and test attachments.
// The clone starts hidden, unlocked and with no participants.
func (s *CourseService) CloneCourse(ctx context.Context, user *model.User, sourceKey, newKey, newName string) (*model.Course, error) {
	if !user.HasPerm(model.PermCloneCourses) {
		return nil, common.Errorf("user may not clone courses: %w", common.ErrForbidden)
	}
	src, err := s.courseRepo.FindByKey(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	if err := src.AccessCheck(user); err != nil {
		return nil, err
	}

	clone := *src
	clone.ID = uuid.NewString()
	clone.Key = newKey
	if clone.Key == "" {
		clone.Key = slug.Make(newName)
	}
	if newName != "" {
		clone.Name = newName
	}
	clone.IsVisible = false
	clone.UserCount = 0
	clone.LockedAfter = nil
	clone.AuthorIDs = []string{user.ID}
	clone.CuratorIDs = nil
	clone.TesterIDs = nil
	clone.SpectatorIDs = nil
	clone.ViewScoreboardIDs = nil
	clone.BannedUserIDs = nil

	clone.Problems = make([]model.CourseProblem, len(src.Problems))
	for i, cp := range src.Problems {
		cp.ID = uuid.NewString()
		cp.CourseID = clone.ID
		clone.Problems[i] = cp
	}

	theories, err := s.courseRepo.ListTheories(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	tests, err := s.courseRepo.ListTests(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	for i := range theories {
		theories[i].ID = uuid.NewString()
		theories[i].CourseID = clone.ID
	}
	for i := range tests {
		tests[i].ID = uuid.NewString()
		tests[i].CourseID = clone.ID
	}

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.courseRepo.Create(ctx, tx, &clone); err != nil {
			return common.Errorf("failed to create course clone: %w", err)
		}
		if err := s.courseRepo.AddMember(ctx, tx, clone.ID, user.ID, repository.MemberAuthor); err != nil {
			return err
		}
		if err := s.courseRepo.CreateProblems(ctx, tx, clone.Problems); err != nil {
			return err
		}
		if err := s.courseRepo.CreateTheories(ctx, tx, theories); err != nil {
			return err
		}
		return s.courseRepo.CreateTests(ctx, tx, tests)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Course %s cloned to %s by %s.", src.Key, clone.Key, user.Username)
	return &clone, nil
}

// MakeVisible publishes the given courses. Returns how many rows changed.
func (s *CourseService) MakeVisible(ctx context.Context, user *model.User, courseIDs []string) (int64, error) {
	return s.setVisibility(ctx, user, courseIDs, true)
}

// MakeHidden unpublishes the given courses.
func (s *CourseService) MakeHidden(ctx context.Context, user *model.User, courseIDs []string) (int64, error) {
	return s.setVisibility(ctx, user, courseIDs, false)
}

func (s *CourseService) setVisibility(ctx context.Context, user *model.User, courseIDs []string, visible bool) (int64, error) {
	if !user.HasPerm(model.PermChangeCourseVisibility) {
		return 0, common.Errorf("user may not change course visibility: %w", common.ErrForbidden)
	}
	n, err := s.courseRepo.SetVisibility(ctx, courseIDs, visible)
	if err != nil {
		return 0, common.Errorf("failed to set course visibility: %w", err)
	}
	return n, nil
}

// SetCourseLock freezes (or with nil unfreezes) the course's live submissions.
// The course row and the submission stamps move in one transaction so a lock
// is never observed half applied.
func (s *CourseService) SetCourseLock(ctx context.Context, user *model.User, key string, lockedAfter *time.Time) error {
	if !user.HasPerm(model.PermLockCourses) {
		return common.Errorf("user may not lock courses: %w", common.ErrForbidden)
	}
	c, err := s.courseRepo.FindByKey(ctx, key)
	if err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.courseRepo.SetLockedAfter(ctx, tx, c.ID, lockedAfter); err != nil {
			return err
		}
		return s.subRepo.SetLockedAfter(ctx, tx, c.ID, lockedAfter)
	})
}

// AddTheories attaches theory posts to a course in the given order, appended
// after any existing attachments.
func (s *CourseService) AddTheories(ctx context.Context, editor *model.User, courseKey string, theoryIDs []string) error {
	c, err := s.courseRepo.FindByKey(ctx, courseKey)
	if err != nil {
		return err
	}
	if !c.IsEditableBy(editor) {
		return common.Errorf("user may not edit this course: %w", common.ErrForbidden)
	}
	existing, err := s.courseRepo.ListTheories(ctx, c.ID)
	if err != nil {
		return err
	}
	rows := make([]model.CourseTheory, len(theoryIDs))
	for i, id := range theoryIDs {
		rows[i] = model.CourseTheory{
			ID:       uuid.NewString(),
			CourseID: c.ID,
			TheoryID: id,
			Order:    len(existing) + i,
		}
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.courseRepo.CreateTheories(ctx, tx, rows)
	})
}

// AddTests attaches test posts to a course, mirroring AddTheories.
func (s *CourseService) AddTests(ctx context.Context, editor *model.User, courseKey string, testIDs []string) error {
	c, err := s.courseRepo.FindByKey(ctx, courseKey)
	if err != nil {
		return err
	}
	if !c.IsEditableBy(editor) {
		return common.Errorf("user may not edit this course: %w", common.ErrForbidden)
	}
	existing, err := s.courseRepo.ListTests(ctx, c.ID)
	if err != nil {
		return err
	}
	rows := make([]model.CourseTest, len(testIDs))
	for i, id := range testIDs {
		rows[i] = model.CourseTest{
			ID:       uuid.NewString(),
			CourseID: c.ID,
			TestID:   id,
			Order:    len(existing) + i,
		}
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.courseRepo.CreateTests(ctx, tx, rows)
	})
}

// UpdateUserCount recounts live participations into the denormalized counter.
func (s *CourseService) UpdateUserCount(ctx context.Context, courseID string) error {
	count, err := s.partRepo.CountLive(ctx, courseID)
	if err != nil {
		return common.Errorf("failed to count live participations: %w", err)
	}
	return s.courseRepo.SetUserCount(ctx, courseID, count)
}
