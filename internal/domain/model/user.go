package model

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Capability names consumed by the course access policy. Superusers hold all of
// them implicitly.
const (
	PermSeeAllCourses          = "see_all_courses"
	PermEditAllCourses         = "edit_all_courses"
	PermEditOwnCourses         = "edit_own_courses"
	PermChangeCourseVisibility = "change_course_visibility"
	PermLockCourses            = "lock_courses"
	PermCloneCourses           = "clone_courses"
)

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"` // Not exposed
	Role           string    `json:"role"`
	IsSuperuser    bool      `json:"is_superuser"`
	Perms          []string  `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	OrganizationIDs []string `json:"organization_ids,omitempty"`
	ClassIDs        []string `json:"class_ids,omitempty"`

	// Weak reference to the participation the user is currently "inside".
	// Clearing it never deletes the participation row.
	CurrentParticipationID *string `json:"current_participation_id,omitempty"`
}

// HasPerm reports whether the user holds the named capability. A nil user is
// unauthenticated and holds nothing.
func (u *User) HasPerm(perm string) bool {
	if u == nil {
		return false
	}
	if u.IsSuperuser {
		return true
	}
	return containsID(u.Perms, perm)
}

// Authenticated reports whether u represents a logged-in user.
func (u *User) Authenticated() bool {
	return u != nil
}
