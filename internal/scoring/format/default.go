package format

import (
	"encoding/json"
	"fmt"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

func init() {
	register("default", newDefaultFormat)
}

// defaultFormat sums the best points per problem; cumulative time is the sum
// of the last submission times of solved problems. It takes no configuration.
type defaultFormat struct{}

func newDefaultFormat(config json.RawMessage) (Format, error) {
	if err := requireEmptyConfig("default", config); err != nil {
		return nil, err
	}
	return defaultFormat{}, nil
}

func requireEmptyConfig(name string, config json.RawMessage) error {
	if len(config) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(config, &m); err != nil || len(m) != 0 {
		return fmt.Errorf("%s format expects no config or an empty object: %w", name, common.ErrValidation)
	}
	return nil
}

func (defaultFormat) Name() string { return "default" }

func (defaultFormat) UpdateParticipation(c *model.Course, p *model.CourseParticipation, subs []model.CourseSubmission) {
	data := bestResults(c, p, subs)

	var score float64
	var cumtime int64
	for _, r := range data {
		if r.Points > 0 {
			cumtime += r.Time
		}
		score += r.Points
	}
	if cumtime < 0 {
		cumtime = 0
	}

	p.Score = roundPoints(score, c.PointsPrecision)
	p.CumTime = cumtime
	p.Tiebreaker = 0
	p.FormatData = encodeData(data)
}

func (defaultFormat) DisplayUserProblem(c *model.Course, p *model.CourseParticipation, cp *model.CourseProblem) Cell {
	return displayProblem(c, p, cp)
}

func (defaultFormat) DisplayParticipationResult(c *model.Course, p *model.CourseParticipation) Cell {
	return displayResult(c, p)
}

func (defaultFormat) LabelForProblem(index int) string {
	return numericLabel(index)
}
