package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

func init() {
	register("atcoder", newAtCoderFormat)
}

// atcoderFormat measures cumulative time as the instant of the last solving
// submission plus a per-wrong-attempt penalty on solved problems.
type atcoderFormat struct {
	penaltyMinutes int
}

func newAtCoderFormat(config json.RawMessage) (Format, error) {
	f := atcoderFormat{penaltyMinutes: 5}
	if len(config) > 0 {
		var cfg icpcConfig
		dec := json.NewDecoder(bytes.NewReader(config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("atcoder format config: %v: %w", err, common.ErrValidation)
		}
		if cfg.Penalty != nil {
			if *cfg.Penalty < 0 {
				return nil, fmt.Errorf("atcoder format penalty must be non-negative: %w", common.ErrValidation)
			}
			f.penaltyMinutes = *cfg.Penalty
		}
	}
	return f, nil
}

func (atcoderFormat) Name() string { return "atcoder" }

func (f atcoderFormat) UpdateParticipation(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) {
	data := firstSolveResults(c, p, subs)

	var score float64
	var penalty, last int64
	for _, r := range data {
		if r.Points > 0 {
			penalty += int64(r.Penalty) * int64(f.penaltyMinutes) * 60
			if r.Time > last {
				last = r.Time
			}
		}
		score += r.Points
	}

	var cumtime int64
	if last > 0 || penalty > 0 {
		cumtime = last + penalty
	}
	p.Score = roundPoints(score, c.PointsPrecision)
	p.CumTime = cumtime
	p.Tiebreaker = 0
	p.FormatData = encodeData(data)
}

func (atcoderFormat) DisplayUserProblem(c *model.Course, p *model.CourseParticipation, cp *model.CourseProblem) Cell {
	return displayProblem(c, p, cp)
}

func (atcoderFormat) DisplayParticipationResult(c *model.Course, p *model.CourseParticipation) Cell {
	return displayResult(c, p)
}

func (atcoderFormat) LabelForProblem(index int) string {
	return numericLabel(index)
}
