// Package memory provides in-memory repository implementations backing the
// service tests. Behavior mirrors the postgres implementations, including the
// conflict errors the services depend on.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
	"course_zone/internal/domain/repository"
)

type CourseRepository struct {
	mu      sync.RWMutex
	courses map[string]*model.Course
	members map[string]map[string]bool // courseID -> "kind/memberID"
	theories map[string][]model.CourseTheory
	tests    map[string][]model.CourseTest
}

func NewCourseRepository() *CourseRepository {
	return &CourseRepository{
		courses:  map[string]*model.Course{},
		members:  map[string]map[string]bool{},
		theories: map[string][]model.CourseTheory{},
		tests:    map[string][]model.CourseTest{},
	}
}

func cloneCourse(c *model.Course) *model.Course {
	out := *c
	out.Problems = append([]model.CourseProblem(nil), c.Problems...)
	out.AuthorIDs = append([]string(nil), c.AuthorIDs...)
	out.CuratorIDs = append([]string(nil), c.CuratorIDs...)
	out.TesterIDs = append([]string(nil), c.TesterIDs...)
	out.SpectatorIDs = append([]string(nil), c.SpectatorIDs...)
	out.ViewScoreboardIDs = append([]string(nil), c.ViewScoreboardIDs...)
	out.PrivateMemberIDs = append([]string(nil), c.PrivateMemberIDs...)
	out.OrganizationIDs = append([]string(nil), c.OrganizationIDs...)
	out.ClassIDs = append([]string(nil), c.ClassIDs...)
	out.BannedUserIDs = append([]string(nil), c.BannedUserIDs...)
	out.JoinOrganizationIDs = append([]string(nil), c.JoinOrganizationIDs...)
	return &out
}

func (r *CourseRepository) Create(ctx context.Context, tx *sql.Tx, c *model.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.courses {
		if existing.Key == c.Key {
			return fmt.Errorf("course with this key already exists: %w", common.ErrConflict)
		}
	}
	r.courses[c.ID] = cloneCourse(c)
	return nil
}

func (r *CourseRepository) Update(ctx context.Context, tx *sql.Tx, c *model.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[c.ID]; !ok {
		return common.ErrNotFound
	}
	r.courses[c.ID] = cloneCourse(c)
	return nil
}

func (r *CourseRepository) FindByKey(ctx context.Context, key string) (*model.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.courses {
		if c.Key == key {
			return cloneCourse(c), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *CourseRepository) FindByID(ctx context.Context, id string) (*model.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneCourse(c), nil
}

func (r *CourseRepository) ListAll(ctx context.Context) ([]model.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Course, 0, len(r.courses))
	for _, c := range r.courses {
		out = append(out, *cloneCourse(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r *CourseRepository) SetVisibility(ctx context.Context, ids []string, visible bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if c, ok := r.courses[id]; ok {
			c.IsVisible = visible
			n++
		}
	}
	return n, nil
}

func (r *CourseRepository) SetLockedAfter(ctx context.Context, tx *sql.Tx, courseID string, lockedAfter *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[courseID]
	if !ok {
		return common.ErrNotFound
	}
	c.LockedAfter = lockedAfter
	return nil
}

func (r *CourseRepository) SetUserCount(ctx context.Context, courseID string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[courseID]
	if !ok {
		return common.ErrNotFound
	}
	c.UserCount = count
	return nil
}

func (r *CourseRepository) AddMember(ctx context.Context, tx *sql.Tx, courseID, memberID, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[courseID]
	if !ok {
		return common.ErrNotFound
	}
	set := r.members[courseID]
	if set == nil {
		set = map[string]bool{}
		r.members[courseID] = set
	}
	memberKey := kind + "/" + memberID
	if set[memberKey] {
		return nil
	}
	set[memberKey] = true
	appendMember(c, memberID, kind)
	return nil
}

func (r *CourseRepository) RemoveMember(ctx context.Context, tx *sql.Tx, courseID, memberID, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[courseID]
	if !ok {
		return common.ErrNotFound
	}
	delete(r.members[courseID], kind+"/"+memberID)
	removeMember(c, memberID, kind)
	return nil
}

func appendMember(c *model.Course, memberID, kind string) {
	switch kind {
	case repository.MemberAuthor:
		c.AuthorIDs = append(c.AuthorIDs, memberID)
	case repository.MemberCurator:
		c.CuratorIDs = append(c.CuratorIDs, memberID)
	case repository.MemberTester:
		c.TesterIDs = append(c.TesterIDs, memberID)
	case repository.MemberSpectator:
		c.SpectatorIDs = append(c.SpectatorIDs, memberID)
	case repository.MemberViewScoreboard:
		c.ViewScoreboardIDs = append(c.ViewScoreboardIDs, memberID)
	case repository.MemberPrivate:
		c.PrivateMemberIDs = append(c.PrivateMemberIDs, memberID)
	case repository.MemberOrganization:
		c.OrganizationIDs = append(c.OrganizationIDs, memberID)
	case repository.MemberClass:
		c.ClassIDs = append(c.ClassIDs, memberID)
	case repository.MemberBanned:
		c.BannedUserIDs = append(c.BannedUserIDs, memberID)
	case repository.MemberJoinOrganization:
		c.JoinOrganizationIDs = append(c.JoinOrganizationIDs, memberID)
	}
}

func removeMember(c *model.Course, memberID, kind string) {
	filter := func(ids []string) []string {
		out := ids[:0]
		for _, id := range ids {
			if id != memberID {
				out = append(out, id)
			}
		}
		return out
	}
	switch kind {
	case repository.MemberAuthor:
		c.AuthorIDs = filter(c.AuthorIDs)
	case repository.MemberCurator:
		c.CuratorIDs = filter(c.CuratorIDs)
	case repository.MemberTester:
		c.TesterIDs = filter(c.TesterIDs)
	case repository.MemberSpectator:
		c.SpectatorIDs = filter(c.SpectatorIDs)
	case repository.MemberViewScoreboard:
		c.ViewScoreboardIDs = filter(c.ViewScoreboardIDs)
	case repository.MemberPrivate:
		c.PrivateMemberIDs = filter(c.PrivateMemberIDs)
	case repository.MemberOrganization:
		c.OrganizationIDs = filter(c.OrganizationIDs)
	case repository.MemberClass:
		c.ClassIDs = filter(c.ClassIDs)
	case repository.MemberBanned:
		c.BannedUserIDs = filter(c.BannedUserIDs)
	case repository.MemberJoinOrganization:
		c.JoinOrganizationIDs = filter(c.JoinOrganizationIDs)
	}
}

func (r *CourseRepository) CreateProblems(ctx context.Context, tx *sql.Tx, problems []model.CourseProblem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cp := range problems {
		c, ok := r.courses[cp.CourseID]
		if !ok {
			return common.ErrNotFound
		}
		c.Problems = append(c.Problems, cp)
		sort.Slice(c.Problems, func(i, j int) bool { return c.Problems[i].Order < c.Problems[j].Order })
	}
	return nil
}

func (r *CourseRepository) CreateTheories(ctx context.Context, tx *sql.Tx, theories []model.CourseTheory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range theories {
		r.theories[ct.CourseID] = append(r.theories[ct.CourseID], ct)
	}
	return nil
}

func (r *CourseRepository) CreateTests(ctx context.Context, tx *sql.Tx, tests []model.CourseTest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range tests {
		r.tests[ct.CourseID] = append(r.tests[ct.CourseID], ct)
	}
	return nil
}

func (r *CourseRepository) ListTheories(ctx context.Context, courseID string) ([]model.CourseTheory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.CourseTheory(nil), r.theories[courseID]...), nil
}

func (r *CourseRepository) ListTests(ctx context.Context, courseID string) ([]model.CourseTest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.CourseTest(nil), r.tests[courseID]...), nil
}
