// Package format implements the pluggable scoring strategies a course selects
// by name. Each strategy recomputes a participation's score, cumulative time
// and tiebreaker from its recorded course submissions, and renders scoreboard
// cells from the data it persisted.
package format

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

// Cell is an opaque scoreboard cell handed to the presentation layer.
type Cell struct {
	Text  string `json:"text"`
	Time  string `json:"time,omitempty"`
	Class string `json:"class,omitempty"`
}

// Placeholder is rendered when stored format data does not match what the
// current format expects (e.g. the course format changed and the rescore has
// not caught up yet).
var Placeholder = Cell{Text: "???"}

type Format interface {
	Name() string

	// UpdateParticipation recomputes score, cumtime, tiebreaker and format
	// data from the full submission history of the participation. It must be
	// idempotent: the same submissions always produce the same results.
	UpdateParticipation(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission)

	// DisplayUserProblem renders the cell for one problem column. It must
	// degrade to Placeholder instead of failing when format data is stale.
	DisplayUserProblem(c *model.Course, p *model.CourseParticipation, cp *model.CourseProblem) Cell

	// DisplayParticipationResult renders the totals cell for a row.
	DisplayParticipationResult(c *model.Course, p *model.CourseParticipation) Cell

	// LabelForProblem derives the display label for the zero-indexed problem.
	LabelForProblem(index int) string
}

// Factory builds a Format from a course's format_config blob, validating it.
type Factory func(config json.RawMessage) (Format, error)

var registry = map[string]Factory{}

func register(name string, f Factory) {
	if _, dup := registry[name]; dup {
		panic("format: duplicate registration for " + name)
	}
	registry[name] = f
}

// New builds the named format with the given configuration.
func New(name string, config json.RawMessage) (Format, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown course format %q: %w", name, common.ErrValidation)
	}
	return f(config)
}

// Validate checks a (name, config) pair without using the result.
func Validate(name string, config json.RawMessage) error {
	_, err := New(name, config)
	return err
}

// Choices lists the registered format names.
func Choices() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// problemResult is the per-problem state every bundled format persists in
// participation format data, keyed by course problem ID.
type problemResult struct {
	Points  float64 `json:"points"`
	Time    int64   `json:"time"` // seconds from participation start
	Penalty int     `json:"penalty,omitempty"`
}

func decodeData(p *model.CourseParticipation) (map[string]problemResult, bool) {
	if len(p.FormatData) == 0 {
		return nil, true
	}
	var data map[string]problemResult
	if err := json.Unmarshal(p.FormatData, &data); err != nil {
		return nil, false
	}
	return data, true
}

func encodeData(data map[string]problemResult) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

func roundPoints(v float64, precision int) float64 {
	m := math.Pow(10, float64(precision))
	return math.Round(v*m) / m
}

func formatPoints(v float64, precision int) string {
	return strconv.FormatFloat(roundPoints(v, precision), 'f', -1, 64)
}

func formatSeconds(sec int64) string {
	d := time.Duration(sec) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

func cellClass(points float64, cp *model.CourseProblem, pretest bool) string {
	class := "failed-score"
	switch {
	case points >= float64(cp.Points) && cp.Points > 0:
		class = "full-score"
	case points > 0:
		class = "partial-score"
	}
	if pretest {
		class += " pretest"
	}
	return class
}

// bestResults folds a submission history into one result per problem: the
// maximum points achieved, the time of the latest submission for the problem,
// and how many attempts preceded the first submission reaching the maximum.
func bestResults(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) map[string]problemResult {
	start := p.Start(c)
	ordered := make([]model.CourseSubmission, len(subs))
	copy(ordered, subs)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
	})

	data := make(map[string]problemResult)
	attempts := make(map[string]int)
	for _, sub := range ordered {
		dt := int64(sub.SubmittedAt.Sub(start) / time.Second)
		r, seen := data[sub.CourseProblemID]
		if !seen || sub.Points > r.Points {
			r.Points = sub.Points
			r.Penalty = attempts[sub.CourseProblemID]
		}
		r.Time = dt // latest submission time for the problem
		data[sub.CourseProblemID] = r
		attempts[sub.CourseProblemID]++
	}
	return data
}

// firstSolveResults is like bestResults but records the time of the *first*
// submission achieving the maximum points, as penalty-based formats need.
func firstSolveResults(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) map[string]problemResult {
	start := p.Start(c)
	ordered := make([]model.CourseSubmission, len(subs))
	copy(ordered, subs)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
	})

	data := make(map[string]problemResult)
	attempts := make(map[string]int)
	for _, sub := range ordered {
		dt := int64(sub.SubmittedAt.Sub(start) / time.Second)
		r, seen := data[sub.CourseProblemID]
		if !seen || sub.Points > r.Points {
			r.Points = sub.Points
			r.Time = dt
			r.Penalty = attempts[sub.CourseProblemID]
		}
		data[sub.CourseProblemID] = r
		attempts[sub.CourseProblemID]++
	}
	return data
}

func displayProblem(c *model.Course, p *model.CourseParticipation, cp *model.CourseProblem) Cell {
	data, ok := decodeData(p)
	if !ok {
		return Placeholder
	}
	r, attempted := data[cp.ID]
	if !attempted {
		return Cell{}
	}
	return Cell{
		Text:  formatPoints(r.Points, c.PointsPrecision),
		Time:  formatSeconds(r.Time),
		Class: cellClass(r.Points, cp, cp.IsPretested),
	}
}

func displayResult(c *model.Course, p *model.CourseParticipation) Cell {
	return Cell{
		Text: formatPoints(p.Score, c.PointsPrecision),
		Time: formatSeconds(p.CumTime),
	}
}

// numericLabel is the default problem label: 1-based position.
func numericLabel(index int) string {
	return strconv.Itoa(index + 1)
}

// letterLabel maps 0 -> A, 25 -> Z, 26 -> AA.
func letterLabel(index int) string {
	label := ""
	index++
	for index > 0 {
		index--
		label = string(rune('A'+index%26)) + label
		index /= 26
	}
	return label
}
