package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	VirtualLive     = 0
	VirtualSpectate = -1
)

// DisqualifiedScore is the sentinel forcing disqualified rows to the bottom of
// the scoreboard. It is a fixed magic constant kept for compatibility with
// existing data; it is not scaled by points precision.
const DisqualifiedScore = -9999

// CourseParticipation is one attempt at a course by a user. Virtual 0 is the
// live attempt, -1 spectating, positive values successive practice attempts.
// (course, user, virtual) is unique.
type CourseParticipation struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	UserID   string `json:"user_id"`

	RealStart      time.Time       `json:"real_start"`
	Score          float64         `json:"score"`
	CumTime        int64           `json:"cumtime"` // seconds
	Tiebreaker     float64         `json:"tiebreaker"`
	IsDisqualified bool            `json:"is_disqualified"`
	Virtual        int             `json:"virtual"`
	FormatData     json.RawMessage `json:"format_data,omitempty"`

	Username string `json:"username,omitempty"` // joined in for display
}

func (p *CourseParticipation) Live() bool {
	return p.Virtual == VirtualLive
}

func (p *CourseParticipation) Spectate() bool {
	return p.Virtual == VirtualSpectate
}

// Start is the instant scoring time is measured from.
func (p *CourseParticipation) Start(c *Course) time.Time {
	if c.TimeLimit == nil && (p.Live() || p.Spectate()) {
		return c.StartTime
	}
	return p.RealStart
}

// EndTime is when this participation's window closes.
func (p *CourseParticipation) EndTime(c *Course) time.Time {
	if p.Spectate() {
		return c.EndTime
	}
	if p.Virtual > 0 {
		if c.TimeLimit != nil {
			return p.RealStart.Add(*c.TimeLimit)
		}
		return p.RealStart.Add(c.Window())
	}
	if c.TimeLimit == nil {
		return c.EndTime
	}
	limited := p.RealStart.Add(*c.TimeLimit)
	if limited.Before(c.EndTime) {
		return limited
	}
	return c.EndTime
}

func (p *CourseParticipation) Ended(c *Course, now time.Time) bool {
	return p.EndTime(c).Before(now)
}

func (p *CourseParticipation) TimeRemaining(c *Course, now time.Time) (time.Duration, bool) {
	end := p.EndTime(c)
	if !end.Before(now) {
		return end.Sub(now), true
	}
	return 0, false
}

func (p *CourseParticipation) String() string {
	if p.Spectate() {
		return fmt.Sprintf("%s spectating in %s", p.UserID, p.CourseID)
	}
	if p.Virtual > 0 {
		return fmt.Sprintf("%s in %s, v%d", p.UserID, p.CourseID, p.Virtual)
	}
	return fmt.Sprintf("%s in %s", p.UserID, p.CourseID)
}
