package model

import (
	"encoding/json"
	"errors"
	"time"
)

type ScoreboardVisibility string

const (
	ScoreboardVisible            ScoreboardVisibility = "V"
	ScoreboardAfterContest       ScoreboardVisibility = "C"
	ScoreboardAfterParticipation ScoreboardVisibility = "P"
	ScoreboardHidden             ScoreboardVisibility = "H"
)

// ErrInaccessible means the course is not visible to the user at all; callers
// present it as "not found".
var ErrInaccessible = errors.New("course is not accessible")

// PrivateCourseError means the course is visible but access-gated. It carries
// enough detail for the caller to render a useful denial message.
type PrivateCourseError struct {
	Name                  string   `json:"name"`
	IsPrivate             bool     `json:"is_private"`
	IsOrganizationPrivate bool     `json:"is_organization_private"`
	OrganizationIDs       []string `json:"organization_ids,omitempty"`
	ClassIDs              []string `json:"class_ids,omitempty"`
}

func (e *PrivateCourseError) Error() string {
	return "course \"" + e.Name + "\" is private"
}

type Course struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`

	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	TimeLimit *time.Duration `json:"time_limit,omitempty"`

	IsVisible             bool                 `json:"is_visible"`
	IsRated               bool                 `json:"is_rated"`
	IsPrivate             bool                 `json:"is_private"`
	IsOrganizationPrivate bool                 `json:"is_organization_private"`
	ScoreboardVisibility  ScoreboardVisibility `json:"scoreboard_visibility"`
	TesterSeeScoreboard   bool                 `json:"tester_see_scoreboard"`

	AuthorIDs        []string `json:"author_ids,omitempty"`
	CuratorIDs       []string `json:"curator_ids,omitempty"`
	TesterIDs        []string `json:"tester_ids,omitempty"`
	SpectatorIDs     []string `json:"spectator_ids,omitempty"`
	ViewScoreboardIDs []string `json:"view_scoreboard_ids,omitempty"`

	PrivateMemberIDs []string `json:"private_member_ids,omitempty"`
	OrganizationIDs  []string `json:"organization_ids,omitempty"`
	ClassIDs         []string `json:"class_ids,omitempty"`
	BannedUserIDs    []string `json:"banned_user_ids,omitempty"`

	LimitJoinOrganizations bool     `json:"limit_join_organizations"`
	JoinOrganizationIDs    []string `json:"join_organization_ids,omitempty"`

	AccessCode  string     `json:"-"`
	LockedAfter *time.Time `json:"locked_after,omitempty"`

	FormatName         string          `json:"format_name"`
	FormatConfig       json.RawMessage `json:"format_config,omitempty"`
	ProblemLabelScript string          `json:"problem_label_script,omitempty"`
	PointsPrecision    int             `json:"points_precision"`

	UserCount int `json:"user_count"`

	Problems []CourseProblem `json:"problems,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CourseProblem is the course×problem join row. Order defines the scoreboard
// column order and must be dense within a course for label derivation.
type CourseProblem struct {
	ID             string `json:"id"`
	CourseID       string `json:"course_id"`
	ProblemID      string `json:"problem_id"`
	Points         int    `json:"points"`
	Partial        bool   `json:"partial"`
	IsPretested    bool   `json:"is_pretested"`
	Order          int    `json:"order"`
	MaxSubmissions *int   `json:"max_submissions,omitempty"`
}

// CourseSubmission captures a judged submission's result against a course
// problem at judge time. It is the durable record scoring formats read.
type CourseSubmission struct {
	ID              string    `json:"id"`
	SubmissionID    string    `json:"submission_id"`
	CourseProblemID string    `json:"course_problem_id"`
	ParticipationID string    `json:"participation_id"`
	Points          float64   `json:"points"`
	IsPretest       bool      `json:"is_pretest"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

func (c *Course) Window() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

func (c *Course) Started(now time.Time) bool {
	return !c.StartTime.After(now)
}

func (c *Course) Ended(now time.Time) bool {
	return c.EndTime.Before(now)
}

func (c *Course) TimeBeforeStart(now time.Time) (time.Duration, bool) {
	if c.StartTime.After(now) {
		return c.StartTime.Sub(now), true
	}
	return 0, false
}

func (c *Course) TimeBeforeEnd(now time.Time) (time.Duration, bool) {
	if !c.EndTime.Before(now) {
		return c.EndTime.Sub(now), true
	}
	return 0, false
}

func (c *Course) IsEditor(u *User) bool {
	if u == nil {
		return false
	}
	return containsID(c.AuthorIDs, u.ID) || containsID(c.CuratorIDs, u.ID)
}

func (c *Course) IsAuthor(u *User) bool {
	return u != nil && containsID(c.AuthorIDs, u.ID)
}

func (c *Course) IsTester(u *User) bool {
	return u != nil && containsID(c.TesterIDs, u.ID)
}

func (c *Course) IsSpectator(u *User) bool {
	return u != nil && containsID(c.SpectatorIDs, u.ID)
}

func (c *Course) IsBanned(u *User) bool {
	return u != nil && containsID(c.BannedUserIDs, u.ID)
}

func (c *Course) privateError() *PrivateCourseError {
	return &PrivateCourseError{
		Name:                  c.Name,
		IsPrivate:             c.IsPrivate,
		IsOrganizationPrivate: c.IsOrganizationPrivate,
		OrganizationIDs:       c.OrganizationIDs,
		ClassIDs:              c.ClassIDs,
	}
}

// AccessCheck decides whether the user may view the course. It returns nil,
// ErrInaccessible, or a *PrivateCourseError. Rules short-circuit in order.
func (c *Course) AccessCheck(u *User) error {
	// Do the unauthenticated check first so later rules can assume a user.
	if u == nil {
		if !c.IsVisible {
			return ErrInaccessible
		}
		if c.IsPrivate || c.IsOrganizationPrivate {
			return c.privateError()
		}
		return nil
	}

	// The user can view or edit all courses
	if u.HasPerm(PermSeeAllCourses) || u.HasPerm(PermEditAllCourses) {
		return nil
	}

	// User is author, curator, tester or spectator for the course
	if c.IsEditor(u) || c.IsTester(u) || c.IsSpectator(u) {
		return nil
	}

	// Course is not publicly visible
	if !c.IsVisible {
		return ErrInaccessible
	}

	// Course is not private
	if !c.IsPrivate && !c.IsOrganizationPrivate {
		return nil
	}

	// User was explicitly granted scoreboard view
	if containsID(c.ViewScoreboardIDs, u.ID) {
		return nil
	}

	inOrg := intersects(c.OrganizationIDs, u.OrganizationIDs) ||
		intersects(c.ClassIDs, u.ClassIDs)
	inUsers := containsID(c.PrivateMemberIDs, u.ID)

	if (!c.IsOrganizationPrivate || inOrg) && (!c.IsPrivate || inUsers) {
		return nil
	}
	return c.privateError()
}

// IsAccessibleBy wraps AccessCheck, treating both failure kinds as false.
func (c *Course) IsAccessibleBy(u *User) bool {
	return c.AccessCheck(u) == nil
}

func (c *Course) IsEditableBy(u *User) bool {
	if u.HasPerm(PermEditAllCourses) {
		return true
	}
	return u.HasPerm(PermEditOwnCourses) && c.IsEditor(u)
}

// ShowScoreboard reports whether the scoreboard is currently showing to the
// general participant population per the visibility policy.
func (c *Course) ShowScoreboard(now time.Time) bool {
	if !c.Started(now) {
		return false
	}
	if (c.ScoreboardVisibility == ScoreboardAfterContest ||
		c.ScoreboardVisibility == ScoreboardAfterParticipation) && !c.Ended(now) {
		return false
	}
	return c.ScoreboardVisibility != ScoreboardHidden
}

// CanSeeFullScoreboard reports whether the user may see everyone's rows.
// completed says whether the user has finished a live participation in this
// course; callers look that up.
func (c *Course) CanSeeFullScoreboard(u *User, completed bool, now time.Time) bool {
	if c.ShowScoreboard(now) {
		return true
	}
	if u == nil {
		return false
	}
	if u.HasPerm(PermSeeAllCourses) || u.HasPerm(PermEditAllCourses) {
		return true
	}
	if c.IsEditor(u) {
		return true
	}
	if c.TesterSeeScoreboard && c.IsTester(u) {
		return true
	}
	if c.Started(now) && c.IsSpectator(u) {
		return true
	}
	if containsID(c.ViewScoreboardIDs, u.ID) {
		return true
	}
	if c.ScoreboardVisibility == ScoreboardAfterParticipation && completed {
		return true
	}
	return false
}

// CanSeeOwnScoreboard reports whether the user may at least see their own row.
// inCourse says whether the user's current participation points at this course.
func (c *Course) CanSeeOwnScoreboard(u *User, inCourse, completed bool, now time.Time) bool {
	if c.CanSeeFullScoreboard(u, completed, now) {
		return true
	}
	if !c.Started(now) {
		return false
	}
	if !c.ShowScoreboard(now) && !inCourse && !completed {
		return false
	}
	return true
}

// IsLiveJoinableBy assumes the user already passed AccessCheck.
func (c *Course) IsLiveJoinableBy(u *User, completed bool, now time.Time) bool {
	if !c.Started(now) {
		return false
	}
	if u == nil {
		return false
	}
	if c.IsEditor(u) || c.IsTester(u) {
		return false
	}
	if completed {
		return false
	}
	if c.LimitJoinOrganizations {
		return intersects(c.JoinOrganizationIDs, u.OrganizationIDs)
	}
	return true
}

// IsSpectatableBy also skips the access check.
func (c *Course) IsSpectatableBy(u *User) bool {
	if u == nil {
		return false
	}
	if c.IsEditor(u) || c.IsTester(u) {
		return true
	}
	if c.LimitJoinOrganizations {
		return intersects(c.JoinOrganizationIDs, u.OrganizationIDs)
	}
	return true
}

// ProblemByID finds the course's problem row by its join-row ID.
func (c *Course) ProblemByID(id string) *CourseProblem {
	for i := range c.Problems {
		if c.Problems[i].ID == id {
			return &c.Problems[i]
		}
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if containsID(b, v) {
			return true
		}
	}
	return false
}
