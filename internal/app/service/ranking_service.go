package service

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strconv"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
	"course_zone/internal/domain/repository"
	"course_zone/internal/platform/config"
	"course_zone/internal/scoring/format"
	"course_zone/internal/scoring/rank"
)

// Rank markers for rows without a real numeric rank.
const (
	rankHidden  = "???" // viewer may see rows but not standing
	rankVirtual = "-"   // viewer's own practice attempt
)

type RankingService struct {
	courseRepo repository.CourseRepository
	partRepo   repository.ParticipationRepository

	labelTimeout time.Duration
	now          func() time.Time
}

func NewRankingService(courseRepo repository.CourseRepository, partRepo repository.ParticipationRepository) *RankingService {
	timeout := 100 * time.Millisecond
	if config.AppConfig != nil {
		timeout = time.Duration(config.AppConfig.LabelScriptTimeoutMs) * time.Millisecond
	}
	return &RankingService{
		courseRepo:   courseRepo,
		partRepo:     partRepo,
		labelTimeout: timeout,
		now:          time.Now,
	}
}

// RankedProblem is one scoreboard column.
type RankedProblem struct {
	Label   string              `json:"label"`
	Problem model.CourseProblem `json:"problem"`
}

// RankingRow is one scoreboard row, fully rendered.
type RankingRow struct {
	Rank          string                    `json:"rank"`
	Participation model.CourseParticipation `json:"participation"`
	ProblemCells  []format.Cell             `json:"problem_cells"`
	ResultCell    format.Cell               `json:"result_cell"`
}

type RankingList struct {
	Problems []RankedProblem `json:"problems"`
	Rows     []RankingRow    `json:"rows"`
}

// rankKey orders and groups scoreboard rows. Rows comparing equal tie.
type rankKey struct {
	score      float64
	cumtime    int64
	tiebreaker float64
}

func keyOf(p model.CourseParticipation) rankKey {
	return rankKey{score: p.Score, cumtime: p.CumTime, tiebreaker: p.Tiebreaker}
}

// viewerState resolves the cross-entity facts the scoreboard policy needs:
// whether the viewer finished a live run here and whether their current
// participation points into this course.
func (s *RankingService) viewerState(ctx context.Context, c *model.Course, viewer *model.User, now time.Time) (completed, inCourse bool, current *model.CourseParticipation, err error) {
	if viewer == nil {
		return false, false, nil, nil
	}
	live, err := s.partRepo.Get(ctx, c.ID, viewer.ID, model.VirtualLive)
	if err == nil {
		completed = live.Ended(c, now)
	} else if !errors.Is(err, common.ErrNotFound) {
		return false, false, nil, err
	}
	if viewer.CurrentParticipationID != nil {
		p, err := s.partRepo.GetByID(ctx, *viewer.CurrentParticipationID)
		if err == nil && p.CourseID == c.ID {
			inCourse = true
			current = p
		} else if err != nil && !errors.Is(err, common.ErrNotFound) {
			return false, false, nil, err
		}
	}
	return completed, inCourse, current, nil
}

// BuildRanking renders the course scoreboard for the viewer: full board with
// real ranks, or just the viewer's own row with a hidden rank marker when the
// visibility policy restricts them.
func (s *RankingService) BuildRanking(ctx context.Context, courseKey string, viewer *model.User) (*RankingList, error) {
	c, err := s.courseRepo.FindByKey(ctx, courseKey)
	if err != nil {
		return nil, err
	}
	if err := c.AccessCheck(viewer); err != nil {
		return nil, err
	}
	now := s.now()

	completed, inCourse, current, err := s.viewerState(ctx, c, viewer, now)
	if err != nil {
		return nil, err
	}

	fullBoard := c.CanSeeFullScoreboard(viewer, completed, now)
	if !fullBoard && !c.CanSeeOwnScoreboard(viewer, inCourse, completed, now) {
		return nil, common.Errorf("scoreboard is not visible: %w", common.ErrForbidden)
	}

	f, err := format.New(c.FormatName, c.FormatConfig)
	if err != nil {
		return nil, err
	}
	labeler := format.LabelerForCourse(c, f, s.labelTimeout)

	problems := make([]RankedProblem, len(c.Problems))
	for i, cp := range c.Problems {
		label, err := labeler(i)
		if err != nil {
			label = f.LabelForProblem(i)
		}
		problems[i] = RankedProblem{Label: label, Problem: cp}
	}

	var parts []model.CourseParticipation
	if fullBoard {
		parts, err = s.partRepo.ListLive(ctx, c.ID)
		if err != nil {
			return nil, common.Errorf("failed to list participations: %w", err)
		}
	} else {
		live, err := s.partRepo.Get(ctx, c.ID, viewer.ID, model.VirtualLive)
		if err == nil {
			parts = []model.CourseParticipation{*live}
		} else if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	// Disqualified rows sink regardless of their sentinel score.
	sort.SliceStable(parts, func(i, j int) bool {
		a, b := parts[i], parts[j]
		if a.IsDisqualified != b.IsDisqualified {
			return !a.IsDisqualified
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CumTime != b.CumTime {
			return a.CumTime < b.CumTime
		}
		return a.Tiebreaker > b.Tiebreaker
	})

	var ranked iter.Seq2[int, model.CourseParticipation]
	if fullBoard {
		ranked = rank.Rank(parts, keyOf)
	} else {
		ranked = rank.Constant(parts, 0)
	}

	rows := []RankingRow{}
	if current != nil && current.Virtual > 0 {
		rows = append(rows, s.renderRow(c, f, rankVirtual, *current))
	}
	for r, p := range ranked {
		marker := rankHidden
		if fullBoard {
			marker = strconv.Itoa(r)
		}
		rows = append(rows, s.renderRow(c, f, marker, p))
	}

	return &RankingList{Problems: problems, Rows: rows}, nil
}

func (s *RankingService) renderRow(c *model.Course, f format.Format, marker string, p model.CourseParticipation) RankingRow {
	cells := make([]format.Cell, len(c.Problems))
	for i := range c.Problems {
		cells[i] = f.DisplayUserProblem(c, &p, &c.Problems[i])
	}
	return RankingRow{
		Rank:          marker,
		Participation: p,
		ProblemCells:  cells,
		ResultCell:    f.DisplayParticipationResult(c, &p),
	}
}
