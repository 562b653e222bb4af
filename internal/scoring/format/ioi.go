package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

func init() {
	register("ioi", newIOIFormat)
}

// ioiFormat is the default format with cumulative time made opt-in, matching
// olympiad scoring where only points decide the standings.
type ioiFormat struct {
	cumtime bool
}

type ioiConfig struct {
	CumTime bool `json:"cumtime"`
}

func newIOIFormat(config json.RawMessage) (Format, error) {
	f := ioiFormat{}
	if len(config) > 0 {
		var cfg ioiConfig
		dec := json.NewDecoder(bytes.NewReader(config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("ioi format config: %v: %w", err, common.ErrValidation)
		}
		f.cumtime = cfg.CumTime
	}
	return f, nil
}

func (ioiFormat) Name() string { return "ioi" }

func (f ioiFormat) UpdateParticipation(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) {
	data := bestResults(c, p, subs)

	var score float64
	var cumtime int64
	for _, r := range data {
		if f.cumtime && r.Points > 0 {
			cumtime += r.Time
		}
		score += r.Points
	}

	p.Score = roundPoints(score, c.PointsPrecision)
	p.CumTime = cumtime
	p.Tiebreaker = 0
	p.FormatData = encodeData(data)
}

func (ioiFormat) DisplayUserProblem(c *model.Course, p *model.CourseParticipation, cp *model.CourseProblem) Cell {
	return displayProblem(c, p, cp)
}

func (ioiFormat) DisplayParticipationResult(c *model.Course, p *model.CourseParticipation) Cell {
	return displayResult(c, p)
}

func (ioiFormat) LabelForProblem(index int) string {
	return numericLabel(index)
}
