package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

func init() {
	register("icpc", newICPCFormat)
}

// icpcFormat scores like an ICPC regional: cumulative time is measured in
// whole minutes from the participation start to the first solving submission,
// plus a fixed penalty per prior wrong attempt on solved problems. The time of
// the last solve breaks remaining ties.
type icpcFormat struct {
	penaltyMinutes int
}

type icpcConfig struct {
	Penalty *int `json:"penalty"`
}

func newICPCFormat(config json.RawMessage) (Format, error) {
	f := icpcFormat{penaltyMinutes: 20}
	if len(config) > 0 {
		var cfg icpcConfig
		dec := json.NewDecoder(bytes.NewReader(config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("icpc format config: %v: %w", err, common.ErrValidation)
		}
		if cfg.Penalty != nil {
			if *cfg.Penalty < 0 {
				return nil, fmt.Errorf("icpc format penalty must be non-negative: %w", common.ErrValidation)
			}
			f.penaltyMinutes = *cfg.Penalty
		}
	}
	return f, nil
}

func (icpcFormat) Name() string { return "icpc" }

func (f icpcFormat) UpdateParticipation(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) {
	data := firstSolveResults(c, p, subs)

	var score float64
	var cumtime, penalty, last int64
	for _, r := range data {
		if r.Points > 0 {
			penalty += int64(r.Penalty) * int64(f.penaltyMinutes) * 60
			floored := r.Time - r.Time%60
			cumtime += floored
			if r.Time > last {
				last = r.Time
			}
		}
		score += r.Points
	}

	total := cumtime + penalty
	if total < 0 {
		total = 0
	}
	p.Score = roundPoints(score, c.PointsPrecision)
	p.CumTime = total
	p.Tiebreaker = float64(last)
	p.FormatData = encodeData(data)
}

func (icpcFormat) DisplayUserProblem(c *model.Course, p *model.CourseParticipation, cp *model.CourseProblem) Cell {
	return displayProblem(c, p, cp)
}

func (icpcFormat) DisplayParticipationResult(c *model.Course, p *model.CourseParticipation) Cell {
	return displayResult(c, p)
}

func (icpcFormat) LabelForProblem(index int) string {
	return letterLabel(index)
}
