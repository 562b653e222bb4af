package format

import (
	"encoding/json"
	"testing"
	"time"

	"course_zone/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var courseStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func scoringCourse(formatName string, config json.RawMessage) *model.Course {
	return &model.Course{
		ID:           "c1",
		Key:          "scoring",
		Name:         "Scoring",
		StartTime:    courseStart,
		EndTime:      courseStart.Add(2 * time.Hour),
		FormatName:   formatName,
		FormatConfig: config,
		Problems: []model.CourseProblem{
			{ID: "cp1", CourseID: "c1", ProblemID: "p1", Points: 100, Order: 0},
			{ID: "cp2", CourseID: "c1", ProblemID: "p2", Points: 100, Order: 1},
		},
	}
}

func liveParticipation() *model.CourseParticipation {
	return &model.CourseParticipation{
		ID: "part1", CourseID: "c1", UserID: "u1",
		Virtual: model.VirtualLive, RealStart: courseStart,
	}
}

func sub(problem string, points float64, at time.Duration) model.CourseSubmission {
	return model.CourseSubmission{
		ID:              problem + at.String(),
		SubmissionID:    problem + at.String(),
		CourseProblemID: problem,
		ParticipationID: "part1",
		Points:          points,
		SubmittedAt:     courseStart.Add(at),
	}
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := New("nope", nil)
	assert.Error(t, err)
}

func TestChoices(t *testing.T) {
	assert.Equal(t, []string{"atcoder", "default", "icpc", "ioi"}, Choices())
}

func TestDefaultFormatScoring(t *testing.T) {
	c := scoringCourse("default", nil)
	f, err := New("default", nil)
	require.NoError(t, err)

	p := liveParticipation()
	subs := []model.CourseSubmission{
		sub("cp1", 50, 10*time.Minute),
		sub("cp1", 100, 30*time.Minute), // best, also latest for cp1
		sub("cp2", 0, 40*time.Minute),   // unsolved, no cumtime
	}
	f.UpdateParticipation(c, p, subs)

	assert.Equal(t, float64(100), p.Score)
	assert.Equal(t, int64(30*60), p.CumTime)
	assert.Zero(t, p.Tiebreaker)
	assert.NotEmpty(t, p.FormatData)
}

func TestDefaultFormatLatestTimeCounts(t *testing.T) {
	c := scoringCourse("default", nil)
	f, _ := New("default", nil)

	p := liveParticipation()
	// A later, worse submission still moves the problem's clock forward.
	subs := []model.CourseSubmission{
		sub("cp1", 100, 10*time.Minute),
		sub("cp1", 40, 50*time.Minute),
	}
	f.UpdateParticipation(c, p, subs)

	assert.Equal(t, float64(100), p.Score)
	assert.Equal(t, int64(50*60), p.CumTime)
}

func TestUpdateParticipationIdempotent(t *testing.T) {
	for _, name := range Choices() {
		t.Run(name, func(t *testing.T) {
			c := scoringCourse(name, nil)
			f, err := New(name, nil)
			require.NoError(t, err)

			p := liveParticipation()
			subs := []model.CourseSubmission{
				sub("cp1", 0, 5*time.Minute),
				sub("cp1", 100, 25*time.Minute),
				sub("cp2", 100, 65*time.Minute),
			}
			f.UpdateParticipation(c, p, subs)
			score, cumtime, tiebreaker := p.Score, p.CumTime, p.Tiebreaker
			data := append(json.RawMessage(nil), p.FormatData...)

			f.UpdateParticipation(c, p, subs)
			assert.Equal(t, score, p.Score)
			assert.Equal(t, cumtime, p.CumTime)
			assert.Equal(t, tiebreaker, p.Tiebreaker)
			assert.JSONEq(t, string(data), string(p.FormatData))
		})
	}
}

func TestIOICumtimeFlag(t *testing.T) {
	c := scoringCourse("ioi", nil)
	p := liveParticipation()
	subs := []model.CourseSubmission{sub("cp1", 100, 20*time.Minute)}

	f, err := New("ioi", nil)
	require.NoError(t, err)
	f.UpdateParticipation(c, p, subs)
	assert.Equal(t, int64(0), p.CumTime, "cumtime off by default")

	f, err = New("ioi", json.RawMessage(`{"cumtime": true}`))
	require.NoError(t, err)
	f.UpdateParticipation(c, p, subs)
	assert.Equal(t, int64(20*60), p.CumTime)
}

func TestIOIConfigRejectsUnknownKeys(t *testing.T) {
	_, err := New("ioi", json.RawMessage(`{"penalty": 20}`))
	assert.Error(t, err)
}

func TestICPCPenaltyAndTiebreaker(t *testing.T) {
	c := scoringCourse("icpc", nil)
	f, err := New("icpc", nil)
	require.NoError(t, err)

	p := liveParticipation()
	subs := []model.CourseSubmission{
		sub("cp1", 0, 5*time.Minute),            // wrong attempt
		sub("cp1", 100, 25*time.Minute+30*time.Second), // solve; floors to 25 min
		sub("cp2", 0, 90*time.Minute),           // never solved, no penalty
	}
	f.UpdateParticipation(c, p, subs)

	assert.Equal(t, float64(100), p.Score)
	// 25 minutes solve time plus one wrong attempt at the default 20.
	assert.Equal(t, int64(25*60+20*60), p.CumTime)
	assert.Equal(t, float64(25*60+30), p.Tiebreaker)
}

func TestICPCCustomPenalty(t *testing.T) {
	c := scoringCourse("icpc", json.RawMessage(`{"penalty": 10}`))
	f, err := New("icpc", c.FormatConfig)
	require.NoError(t, err)

	p := liveParticipation()
	subs := []model.CourseSubmission{
		sub("cp1", 0, time.Minute),
		sub("cp1", 0, 2*time.Minute),
		sub("cp1", 100, 10*time.Minute),
	}
	f.UpdateParticipation(c, p, subs)
	assert.Equal(t, int64(10*60+2*10*60), p.CumTime)
}

func TestICPCNegativePenaltyRejected(t *testing.T) {
	_, err := New("icpc", json.RawMessage(`{"penalty": -1}`))
	assert.Error(t, err)
}

func TestAtCoderCumtime(t *testing.T) {
	c := scoringCourse("atcoder", nil)
	f, err := New("atcoder", nil)
	require.NoError(t, err)

	p := liveParticipation()
	subs := []model.CourseSubmission{
		sub("cp1", 0, 3*time.Minute),
		sub("cp1", 100, 12*time.Minute),
		sub("cp2", 100, 48*time.Minute),
	}
	f.UpdateParticipation(c, p, subs)

	// Last solve at 48 min plus one wrong attempt at the default 5.
	assert.Equal(t, int64(48*60+5*60), p.CumTime)
}

func TestDefaultConfigMustBeEmpty(t *testing.T) {
	assert.NoError(t, Validate("default", nil))
	assert.NoError(t, Validate("default", json.RawMessage(`{}`)))
	assert.Error(t, Validate("default", json.RawMessage(`{"penalty": 5}`)))
}

func TestDisplayUserProblem(t *testing.T) {
	c := scoringCourse("default", nil)
	f, _ := New("default", nil)
	p := liveParticipation()
	subs := []model.CourseSubmission{
		sub("cp1", 100, 10*time.Minute),
		sub("cp2", 40, 20*time.Minute),
	}
	f.UpdateParticipation(c, p, subs)

	full := f.DisplayUserProblem(c, p, &c.Problems[0])
	assert.Equal(t, "100", full.Text)
	assert.Equal(t, "0:10:00", full.Time)
	assert.Equal(t, "full-score", full.Class)

	partial := f.DisplayUserProblem(c, p, &c.Problems[1])
	assert.Equal(t, "partial-score", partial.Class)
}

func TestDisplayUnattemptedProblem(t *testing.T) {
	c := scoringCourse("default", nil)
	f, _ := New("default", nil)
	p := liveParticipation()
	f.UpdateParticipation(c, p, nil)

	assert.Equal(t, Cell{}, f.DisplayUserProblem(c, p, &c.Problems[0]))
}

// Stale format data from a since-changed format renders the placeholder
// instead of erroring.
func TestDisplayStaleFormatData(t *testing.T) {
	c := scoringCourse("default", nil)
	f, _ := New("default", nil)
	p := liveParticipation()
	p.FormatData = json.RawMessage(`["not", "a", "map"]`)

	assert.Equal(t, Placeholder, f.DisplayUserProblem(c, p, &c.Problems[0]))
}

func TestDisplayParticipationResult(t *testing.T) {
	c := scoringCourse("default", nil)
	c.PointsPrecision = 1
	f, _ := New("default", nil)
	p := liveParticipation()
	p.Score = 150.25
	p.CumTime = 3725

	cell := f.DisplayParticipationResult(c, p)
	assert.Equal(t, "150.3", cell.Text)
	assert.Equal(t, "1:02:05", cell.Time)
}

func TestNumericAndLetterLabels(t *testing.T) {
	def, _ := New("default", nil)
	icpc, _ := New("icpc", nil)

	assert.Equal(t, "1", def.LabelForProblem(0))
	assert.Equal(t, "10", def.LabelForProblem(9))

	assert.Equal(t, "A", icpc.LabelForProblem(0))
	assert.Equal(t, "Z", icpc.LabelForProblem(25))
	assert.Equal(t, "AA", icpc.LabelForProblem(26))
}

func TestLabelerDefaultsToFormat(t *testing.T) {
	c := scoringCourse("icpc", nil)
	f, _ := New("icpc", nil)
	labeler := LabelerForCourse(c, f, 100*time.Millisecond)

	label, err := labeler(1)
	require.NoError(t, err)
	assert.Equal(t, "B", label)
}

func TestLabelerRunsScript(t *testing.T) {
	c := scoringCourse("default", nil)
	c.ProblemLabelScript = `function(n) return "P" .. (n + 1) end`
	f, _ := New("default", nil)
	labeler := LabelerForCourse(c, f, 100*time.Millisecond)

	label, err := labeler(2)
	require.NoError(t, err)
	assert.Equal(t, "P3", label)
}

func TestLabelScriptMustReturnString(t *testing.T) {
	c := scoringCourse("default", nil)
	f, _ := New("default", nil)

	c.ProblemLabelScript = `function(n) return n end`
	assert.Error(t, ValidateLabelScript(c, f, 100*time.Millisecond))

	c.ProblemLabelScript = `42`
	assert.Error(t, ValidateLabelScript(c, f, 100*time.Millisecond))

	c.ProblemLabelScript = `function(n) return "ok" end`
	assert.NoError(t, ValidateLabelScript(c, f, 100*time.Millisecond))
}

func TestLabelScriptTimeout(t *testing.T) {
	c := scoringCourse("default", nil)
	c.ProblemLabelScript = `function(n) while true do end end`
	f, _ := New("default", nil)

	assert.Error(t, ValidateLabelScript(c, f, 50*time.Millisecond))
}
