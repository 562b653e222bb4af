package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
	"course_zone/internal/domain/repository"
	"course_zone/internal/domain/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	courses *memory.CourseRepository
	parts   *memory.ParticipationRepository
	subs    *memory.CourseSubmissionRepository
	users   *memory.UserRepository

	participations *ParticipationService
	courseSvc      *CourseService
	rankings       *RankingService

	course *model.Course
	user   *model.User
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		courses: memory.NewCourseRepository(),
		parts:   memory.NewParticipationRepository(),
		subs:    memory.NewCourseSubmissionRepository(),
		users:   memory.NewUserRepository(),
		now:     testStart.Add(10 * time.Minute),
	}
	f.participations = NewParticipationService(f.courses, f.parts, f.subs, f.users, nil, nil)
	f.participations.now = func() time.Time { return f.now }
	f.courseSvc = NewCourseService(f.courses, f.parts, f.subs, nil, nil)
	f.courseSvc.now = func() time.Time { return f.now }
	f.rankings = NewRankingService(f.courses, f.parts)
	f.rankings.now = func() time.Time { return f.now }

	f.course = &model.Course{
		ID:                   "c1",
		Key:                  "algo101",
		Name:                 "Algorithms 101",
		StartTime:            testStart,
		EndTime:              testStart.Add(2 * time.Hour),
		IsVisible:            true,
		ScoreboardVisibility: model.ScoreboardVisible,
		FormatName:           "default",
		Problems: []model.CourseProblem{
			{ID: "cp1", CourseID: "c1", ProblemID: "p1", Points: 100, Order: 0},
		},
	}
	require.NoError(t, f.courses.Create(context.Background(), nil, f.course))

	f.user = &model.User{ID: "u1", Username: "alice", Email: "alice@example.com"}
	f.users.Seed(f.user)
	return f
}

func (f *fixture) reloadCourse(t *testing.T) *model.Course {
	t.Helper()
	c, err := f.courses.FindByID(context.Background(), f.course.ID)
	require.NoError(t, err)
	return c
}

func TestJoinLive(t *testing.T) {
	f := newFixture(t)

	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, model.VirtualLive, p.Virtual)
	assert.Equal(t, f.now, p.RealStart)

	stored, err := f.users.FindByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CurrentParticipationID)
	assert.Equal(t, p.ID, *stored.CurrentParticipationID)

	assert.Equal(t, 1, f.reloadCourse(t).UserCount)
}

func TestJoinIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	second, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	count, _ := f.parts.CountLive(context.Background(), f.course.ID)
	assert.Equal(t, 1, count)
}

func TestJoinBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.now = testStart.Add(-time.Hour)

	_, err := f.participations.Join(context.Background(), f.course, f.user, "")
	assert.ErrorIs(t, err, ErrNotOngoing)

	// Editors get in early, as spectators.
	f.course.AuthorIDs = []string{f.user.ID}
	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, model.VirtualSpectate, p.Virtual)
}

func TestJoinBanned(t *testing.T) {
	f := newFixture(t)
	f.course.BannedUserIDs = []string{f.user.ID}

	_, err := f.participations.Join(context.Background(), f.course, f.user, "")
	assert.ErrorIs(t, err, common.ErrForbidden)

	admin := &model.User{ID: "root", Username: "root", IsSuperuser: true}
	f.users.Seed(admin)
	f.course.BannedUserIDs = append(f.course.BannedUserIDs, admin.ID)
	_, err = f.participations.Join(context.Background(), f.course, admin, "")
	assert.NoError(t, err)
}

func TestJoinAccessCode(t *testing.T) {
	f := newFixture(t)
	f.course.AccessCode = "sesame"

	_, err := f.participations.Join(context.Background(), f.course, f.user, "")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.participations.Join(context.Background(), f.course, f.user, "wrong")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.participations.Join(context.Background(), f.course, f.user, "sesame")
	assert.NoError(t, err)

	// Editors skip the gate entirely.
	editor := &model.User{ID: "ed", Username: "ed", Perms: []string{model.PermEditOwnCourses}}
	f.users.Seed(editor)
	f.course.AuthorIDs = []string{editor.ID}
	_, err = f.participations.Join(context.Background(), f.course, editor, "")
	assert.NoError(t, err)
}

// Two joins after the course ended yield virtual 1 and virtual 2.
func TestJoinEndedCourseVirtualIndices(t *testing.T) {
	f := newFixture(t)
	f.now = f.course.EndTime.Add(time.Hour)

	p1, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Virtual)

	p2, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, 2, p2.Virtual)
	assert.NotEqual(t, p1.ID, p2.ID)
}

// racingPartRepo slips a rival row in before the first virtual insert, the way
// a concurrent join would between the MAX(virtual) read and the create.
type racingPartRepo struct {
	repository.ParticipationRepository
	raced bool
}

func (r *racingPartRepo) Create(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error {
	if !r.raced && p.Virtual > 0 {
		r.raced = true
		rival := *p
		rival.ID = p.ID + "-rival"
		if err := r.ParticipationRepository.Create(ctx, tx, &rival); err != nil {
			return err
		}
	}
	return r.ParticipationRepository.Create(ctx, tx, p)
}

func TestJoinVirtualRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	racing := &racingPartRepo{ParticipationRepository: f.parts}
	svc := NewParticipationService(f.courses, racing, f.subs, f.users, nil, nil)
	svc.now = func() time.Time { return f.course.EndTime.Add(time.Hour) }

	p, err := svc.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Virtual, "retry lands on the next free index")

	rows, err := f.parts.ListByCourse(context.Background(), f.course.ID)
	require.NoError(t, err)
	virtuals := []int{}
	for _, row := range rows {
		virtuals = append(virtuals, row.Virtual)
	}
	assert.ElementsMatch(t, []int{1, 2}, virtuals)
}

func TestJoinEndedParticipationFallsBackToSpectate(t *testing.T) {
	f := newFixture(t)
	limit := 30 * time.Minute
	f.course.TimeLimit = &limit

	live, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, model.VirtualLive, live.Virtual)

	// Their 30 minute window has closed but the course is still running.
	f.now = f.now.Add(50 * time.Minute)
	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, model.VirtualSpectate, p.Virtual)
}

func TestJoinTesterSpectates(t *testing.T) {
	f := newFixture(t)
	f.course.TesterIDs = []string{f.user.ID}

	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	assert.Equal(t, model.VirtualSpectate, p.Virtual)
}

func TestJoinOrganizationGate(t *testing.T) {
	f := newFixture(t)
	f.course.LimitJoinOrganizations = true
	f.course.JoinOrganizationIDs = []string{"org1"}

	_, err := f.participations.Join(context.Background(), f.course, f.user, "")
	assert.ErrorIs(t, err, ErrCannotJoin)

	member := &model.User{ID: "m", Username: "m", OrganizationIDs: []string{"org1"}}
	f.users.Seed(member)
	p, err := f.participations.Join(context.Background(), f.course, member, "")
	require.NoError(t, err)
	assert.Equal(t, model.VirtualLive, p.Virtual)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)

	err := f.participations.Leave(context.Background(), f.course, f.user)
	assert.ErrorIs(t, err, ErrNotInCourse)

	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)

	require.NoError(t, f.participations.Leave(context.Background(), f.course, f.user))
	stored, _ := f.users.FindByID(context.Background(), f.user.ID)
	assert.Nil(t, stored.CurrentParticipationID)

	// The participation row survives the leave.
	_, err = f.parts.GetByID(context.Background(), p.ID)
	assert.NoError(t, err)
}

func judged(id string, participationID string, points float64, at time.Time) JudgedSubmission {
	return JudgedSubmission{
		SubmissionID:    id,
		CourseProblemID: "cp1",
		ParticipationID: participationID,
		Points:          points,
		SubmittedAt:     at,
	}
}

func TestRecordJudgedSubmission(t *testing.T) {
	f := newFixture(t)
	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)

	err = f.participations.RecordJudgedSubmission(context.Background(),
		judged("s1", p.ID, 100, testStart.Add(20*time.Minute)))
	require.NoError(t, err)

	updated, err := f.parts.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), updated.Score)
	assert.Equal(t, int64(20*60), updated.CumTime)
}

func TestRecordJudgedSubmissionRejectedAfterLock(t *testing.T) {
	f := newFixture(t)
	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)

	lock := testStart.Add(30 * time.Minute)
	f.course.LockedAfter = &lock
	require.NoError(t, f.courses.Update(context.Background(), nil, f.course))

	err = f.participations.RecordJudgedSubmission(context.Background(),
		judged("s1", p.ID, 100, lock.Add(time.Minute)))
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestRecordJudgedSubmissionLimit(t *testing.T) {
	f := newFixture(t)
	limit := 2
	f.course.Problems[0].MaxSubmissions = &limit
	require.NoError(t, f.courses.Update(context.Background(), nil, f.course))

	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)

	require.NoError(t, f.participations.RecordJudgedSubmission(context.Background(),
		judged("s1", p.ID, 40, testStart.Add(15*time.Minute))))
	require.NoError(t, f.participations.RecordJudgedSubmission(context.Background(),
		judged("s2", p.ID, 60, testStart.Add(20*time.Minute))))

	err = f.participations.RecordJudgedSubmission(context.Background(),
		judged("s3", p.ID, 100, testStart.Add(25*time.Minute)))
	assert.ErrorIs(t, err, common.ErrForbidden)

	// A re-judge of a counted submission still lands at the cap.
	require.NoError(t, f.participations.RecordJudgedSubmission(context.Background(),
		judged("s2", p.ID, 100, testStart.Add(20*time.Minute))))
	updated, err := f.parts.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), updated.Score)
}

func TestSetDisqualified(t *testing.T) {
	f := newFixture(t)
	admin := &model.User{ID: "root", Username: "root", IsSuperuser: true}
	f.users.Seed(admin)

	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	require.NoError(t, f.participations.RecordJudgedSubmission(context.Background(),
		judged("s1", p.ID, 100, testStart.Add(20*time.Minute))))

	require.NoError(t, f.participations.SetDisqualified(context.Background(), admin, p.ID, true))

	dq, err := f.parts.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, dq.IsDisqualified)
	assert.Equal(t, float64(model.DisqualifiedScore), dq.Score)
	assert.Zero(t, dq.CumTime)
	assert.Zero(t, dq.Tiebreaker)

	c := f.reloadCourse(t)
	assert.Contains(t, c.BannedUserIDs, f.user.ID)
	stored, _ := f.users.FindByID(context.Background(), f.user.ID)
	assert.Nil(t, stored.CurrentParticipationID)

	// Requalifying restores the computed results and lifts the ban.
	require.NoError(t, f.participations.SetDisqualified(context.Background(), admin, p.ID, false))
	rq, _ := f.parts.GetByID(context.Background(), p.ID)
	assert.False(t, rq.IsDisqualified)
	assert.Equal(t, float64(100), rq.Score)
	assert.NotContains(t, f.reloadCourse(t).BannedUserIDs, f.user.ID)
}

func TestSetDisqualifiedRequiresEditor(t *testing.T) {
	f := newFixture(t)
	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)

	err = f.participations.SetDisqualified(context.Background(), f.user, p.ID, true)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestRescoreCourse(t *testing.T) {
	f := newFixture(t)
	p, err := f.participations.Join(context.Background(), f.course, f.user, "")
	require.NoError(t, err)
	require.NoError(t, f.participations.RecordJudgedSubmission(context.Background(),
		judged("s1", p.ID, 100, testStart.Add(20*time.Minute))))

	// Switching to ioi (no cumtime) and rescoring drops the cumulative time.
	f.course.FormatName = "ioi"
	require.NoError(t, f.courses.Update(context.Background(), nil, f.course))

	require.NoError(t, f.participations.RescoreCourse(context.Background(), f.course.ID))
	updated, _ := f.parts.GetByID(context.Background(), p.ID)
	assert.Equal(t, float64(100), updated.Score)
	assert.Zero(t, updated.CumTime)
}
