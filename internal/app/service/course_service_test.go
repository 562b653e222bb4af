package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func courseDraft(name string) *model.Course {
	return &model.Course{
		Name:                 name,
		StartTime:            testStart,
		EndTime:              testStart.Add(2 * time.Hour),
		IsVisible:            true,
		ScoreboardVisibility: model.ScoreboardVisible,
		Problems: []model.CourseProblem{
			{ProblemID: "p1", Points: 100, Order: 0},
		},
	}
}

func TestCreateCourse(t *testing.T) {
	f := newFixture(t)
	creator := &model.User{ID: "cr", Username: "carol", Perms: []string{model.PermEditOwnCourses}}
	f.users.Seed(creator)

	c, err := f.courseSvc.CreateCourse(context.Background(), creator, courseDraft("Graph Theory II"))
	require.NoError(t, err)
	assert.Equal(t, "graph-theory-ii", c.Key)
	assert.Equal(t, "default", c.FormatName)
	assert.Contains(t, c.AuthorIDs, creator.ID)
	assert.NotEmpty(t, c.Problems[0].ID)
	assert.Equal(t, c.ID, c.Problems[0].CourseID)

	stored, err := f.courses.FindByKey(context.Background(), "graph-theory-ii")
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.Contains(t, stored.AuthorIDs, creator.ID)
}

func TestCreateCourseRequiresPerm(t *testing.T) {
	f := newFixture(t)
	_, err := f.courseSvc.CreateCourse(context.Background(), f.user, courseDraft("Nope"))
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestCreateCourseValidation(t *testing.T) {
	f := newFixture(t)
	creator := &model.User{ID: "cr", Username: "carol", Perms: []string{model.PermEditOwnCourses}}

	c := courseDraft("Backwards")
	c.EndTime = c.StartTime.Add(-time.Hour)
	_, err := f.courseSvc.CreateCourse(context.Background(), creator, c)
	assert.ErrorIs(t, err, common.ErrValidation)

	c = courseDraft("Bad Config")
	c.FormatName = "ioi"
	c.FormatConfig = json.RawMessage(`{"penalty": 20}`)
	_, err = f.courseSvc.CreateCourse(context.Background(), creator, c)
	assert.Error(t, err)

	c = courseDraft("Bad Script")
	c.ProblemLabelScript = `function(n) return n end`
	_, err = f.courseSvc.CreateCourse(context.Background(), creator, c)
	assert.ErrorIs(t, err, common.ErrValidation)

	c = courseDraft("Bad Precision")
	c.PointsPrecision = -1
	_, err = f.courseSvc.CreateCourse(context.Background(), creator, c)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateCourseRequiresEditor(t *testing.T) {
	f := newFixture(t)
	edited := *f.course
	edited.Name = "Renamed"
	_, err := f.courseSvc.UpdateCourse(context.Background(), f.user, &edited)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestUpdateCourseFormatChange(t *testing.T) {
	f := newFixture(t)
	admin := &model.User{ID: "root", Username: "root", Perms: []string{model.PermEditAllCourses}}

	edited := *f.course
	edited.FormatName = "icpc"
	// No queue configured; the rescore enqueue degrades to a no-op.
	updated, err := f.courseSvc.UpdateCourse(context.Background(), admin, &edited)
	require.NoError(t, err)
	assert.Equal(t, "icpc", updated.FormatName)

	stored, err := f.courses.FindByID(context.Background(), f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, "icpc", stored.FormatName)
}

func TestMakeHiddenAndVisible(t *testing.T) {
	f := newFixture(t)
	admin := &model.User{ID: "root", Username: "root", Perms: []string{model.PermChangeCourseVisibility}}

	n, err := f.courseSvc.MakeHidden(context.Background(), admin, []string{f.course.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, f.reloadCourse(t).IsVisible)

	n, err = f.courseSvc.MakeVisible(context.Background(), admin, []string{f.course.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, f.reloadCourse(t).IsVisible)

	_, err = f.courseSvc.MakeHidden(context.Background(), f.user, []string{f.course.ID})
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestCloneCourse(t *testing.T) {
	f := newFixture(t)
	cloner := &model.User{ID: "cl", Username: "cleo", Perms: []string{model.PermCloneCourses}}
	f.users.Seed(cloner)

	lock := testStart.Add(time.Hour)
	f.course.LockedAfter = &lock
	f.course.UserCount = 42
	f.course.AuthorIDs = []string{"someone-else"}
	f.course.BannedUserIDs = []string{"cheater"}
	require.NoError(t, f.courses.Update(context.Background(), nil, f.course))
	require.NoError(t, f.courses.CreateTheories(context.Background(), nil,
		[]model.CourseTheory{{ID: "th1", CourseID: f.course.ID, TheoryID: "post1", Order: 0}}))

	clone, err := f.courseSvc.CloneCourse(context.Background(), cloner, f.course.Key, "algo101-fall", "")
	require.NoError(t, err)

	assert.Equal(t, "algo101-fall", clone.Key)
	assert.NotEqual(t, f.course.ID, clone.ID)
	assert.False(t, clone.IsVisible)
	assert.Zero(t, clone.UserCount)
	assert.Nil(t, clone.LockedAfter)
	assert.Equal(t, []string{cloner.ID}, clone.AuthorIDs)
	assert.Empty(t, clone.BannedUserIDs)

	require.Len(t, clone.Problems, 1)
	assert.NotEqual(t, f.course.Problems[0].ID, clone.Problems[0].ID)
	assert.Equal(t, f.course.Problems[0].ProblemID, clone.Problems[0].ProblemID)
	assert.Equal(t, clone.ID, clone.Problems[0].CourseID)

	theories, err := f.courses.ListTheories(context.Background(), clone.ID)
	require.NoError(t, err)
	require.Len(t, theories, 1)
	assert.Equal(t, "post1", theories[0].TheoryID)
	assert.NotEqual(t, "th1", theories[0].ID)
}

func TestCloneCourseRequiresPerm(t *testing.T) {
	f := newFixture(t)
	_, err := f.courseSvc.CloneCourse(context.Background(), f.user, f.course.Key, "copy", "")
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestSetCourseLock(t *testing.T) {
	f := newFixture(t)
	admin := &model.User{ID: "root", Username: "root", Perms: []string{model.PermLockCourses}}

	lock := testStart.Add(90 * time.Minute)
	require.NoError(t, f.courseSvc.SetCourseLock(context.Background(), admin, f.course.Key, &lock))
	stored := f.reloadCourse(t)
	require.NotNil(t, stored.LockedAfter)
	assert.Equal(t, lock, *stored.LockedAfter)

	require.NoError(t, f.courseSvc.SetCourseLock(context.Background(), admin, f.course.Key, nil))
	assert.Nil(t, f.reloadCourse(t).LockedAfter)

	err := f.courseSvc.SetCourseLock(context.Background(), f.user, f.course.Key, &lock)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestAddTheoriesAppendsOrder(t *testing.T) {
	f := newFixture(t)
	editor := &model.User{ID: "ed", Username: "ed", Perms: []string{model.PermEditOwnCourses}}
	f.course.AuthorIDs = []string{editor.ID}
	require.NoError(t, f.courses.Update(context.Background(), nil, f.course))
	require.NoError(t, f.courses.CreateTheories(context.Background(), nil,
		[]model.CourseTheory{{ID: "th0", CourseID: f.course.ID, TheoryID: "intro", Order: 0}}))

	require.NoError(t, f.courseSvc.AddTheories(context.Background(), editor, f.course.Key, []string{"a", "b"}))

	theories, err := f.courses.ListTheories(context.Background(), f.course.ID)
	require.NoError(t, err)
	require.Len(t, theories, 3)
	orders := map[string]int{}
	for _, th := range theories {
		orders[th.TheoryID] = th.Order
	}
	assert.Equal(t, map[string]int{"intro": 0, "a": 1, "b": 2}, orders)

	err = f.courseSvc.AddTheories(context.Background(), f.user, f.course.Key, []string{"c"})
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestListCourses(t *testing.T) {
	f := newFixture(t)

	upcoming := *f.course
	upcoming.ID, upcoming.Key = "c2", "soon"
	upcoming.StartTime = f.now.Add(time.Hour)
	upcoming.EndTime = f.now.Add(2 * time.Hour)
	require.NoError(t, f.courses.Create(context.Background(), nil, &upcoming))

	past := *f.course
	past.ID, past.Key = "c3", "done"
	past.StartTime = f.now.Add(-3 * time.Hour)
	past.EndTime = f.now.Add(-2 * time.Hour)
	require.NoError(t, f.courses.Create(context.Background(), nil, &past))

	hidden := *f.course
	hidden.ID, hidden.Key = "c4", "secret"
	hidden.IsVisible = false
	require.NoError(t, f.courses.Create(context.Background(), nil, &hidden))

	lists, err := f.courseSvc.ListCourses(context.Background(), nil)
	require.NoError(t, err)

	keys := func(cs []model.Course) []string {
		out := []string{}
		for _, c := range cs {
			out = append(out, c.Key)
		}
		return out
	}
	assert.Equal(t, []string{"algo101"}, keys(lists.Active))
	assert.Equal(t, []string{"soon"}, keys(lists.Upcoming))
	assert.Equal(t, []string{"done"}, keys(lists.Past))

	// A superuser sees the hidden one too.
	lists, err = f.courseSvc.ListCourses(context.Background(), &model.User{ID: "s", IsSuperuser: true})
	require.NoError(t, err)
	assert.Contains(t, keys(lists.Active), "secret")
}

func TestUpdateUserCount(t *testing.T) {
	f := newFixture(t)
	for _, uid := range []string{"u1", "u2"} {
		require.NoError(t, f.parts.Create(context.Background(), nil, &model.CourseParticipation{
			ID: "p-" + uid, CourseID: f.course.ID, UserID: uid,
			Virtual: model.VirtualLive, RealStart: f.now,
		}))
	}
	require.NoError(t, f.parts.Create(context.Background(), nil, &model.CourseParticipation{
		ID: "p-spec", CourseID: f.course.ID, UserID: "u3",
		Virtual: model.VirtualSpectate, RealStart: f.now,
	}))

	require.NoError(t, f.courseSvc.UpdateUserCount(context.Background(), f.course.ID))
	assert.Equal(t, 2, f.reloadCourse(t).UserCount)
}
