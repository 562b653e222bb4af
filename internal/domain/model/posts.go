package model

import "time"

// TheoryPost is reading material attachable to courses.
type TheoryPost struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	AuthorIDs []string  `json:"author_ids,omitempty"`
	Visible   bool      `json:"visible"`
	PublishOn time.Time `json:"publish_on"`
	Content   string    `json:"content,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

func (t *TheoryPost) CanSee(u *User, now time.Time) bool {
	if t.Visible && !t.PublishOn.After(now) {
		return true
	}
	return t.IsEditableBy(u)
}

func (t *TheoryPost) IsEditableBy(u *User) bool {
	if u == nil {
		return false
	}
	if u.HasPerm(PermEditAllCourses) {
		return true
	}
	return containsID(t.AuthorIDs, u.ID)
}

// TestPost links an external quiz form into a course.
type TestPost struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	FormURL   string   `json:"form_url"`
	AuthorIDs []string `json:"author_ids,omitempty"`
}

func (t *TestPost) IsEditableBy(u *User) bool {
	if u == nil {
		return false
	}
	if u.HasPerm(PermEditAllCourses) {
		return true
	}
	return containsID(t.AuthorIDs, u.ID)
}

// CourseTheory and CourseTest are ordered join rows owned by the course.
type CourseTheory struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	TheoryID string `json:"theory_id"`
	Order    int    `json:"order"`
}

type CourseTest struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	TestID   string `json:"test_id"`
	Order    int    `json:"order"`
}
