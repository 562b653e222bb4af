package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

type ParticipationRepository struct {
	mu   sync.RWMutex
	rows map[string]*model.CourseParticipation
}

func NewParticipationRepository() *ParticipationRepository {
	return &ParticipationRepository{rows: map[string]*model.CourseParticipation{}}
}

func cloneParticipation(p *model.CourseParticipation) *model.CourseParticipation {
	out := *p
	out.FormatData = append([]byte(nil), p.FormatData...)
	if len(out.FormatData) == 0 {
		out.FormatData = nil
	}
	return &out
}

func (r *ParticipationRepository) Create(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.CourseID == p.CourseID && existing.UserID == p.UserID && existing.Virtual == p.Virtual {
			return fmt.Errorf("participation already exists: %w", common.ErrConflict)
		}
	}
	r.rows[p.ID] = cloneParticipation(p)
	return nil
}

func (r *ParticipationRepository) Update(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[p.ID]
	if !ok {
		return common.ErrNotFound
	}
	row.Score = p.Score
	row.CumTime = p.CumTime
	row.Tiebreaker = p.Tiebreaker
	row.IsDisqualified = p.IsDisqualified
	row.FormatData = append([]byte(nil), p.FormatData...)
	if len(row.FormatData) == 0 {
		row.FormatData = nil
	}
	return nil
}

func (r *ParticipationRepository) GetByID(ctx context.Context, id string) (*model.CourseParticipation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneParticipation(p), nil
}

func (r *ParticipationRepository) Get(ctx context.Context, courseID, userID string, virtual int) (*model.CourseParticipation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.rows {
		if p.CourseID == courseID && p.UserID == userID && p.Virtual == virtual {
			return cloneParticipation(p), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *ParticipationRepository) MaxVirtual(ctx context.Context, courseID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, p := range r.rows {
		if p.CourseID == courseID && p.UserID == userID && p.Virtual > max {
			max = p.Virtual
		}
	}
	return max, nil
}

func (r *ParticipationRepository) ListLive(ctx context.Context, courseID string) ([]model.CourseParticipation, error) {
	return r.listWhere(func(p *model.CourseParticipation) bool {
		return p.CourseID == courseID && p.Virtual == model.VirtualLive
	}), nil
}

func (r *ParticipationRepository) ListByCourse(ctx context.Context, courseID string) ([]model.CourseParticipation, error) {
	return r.listWhere(func(p *model.CourseParticipation) bool {
		return p.CourseID == courseID
	}), nil
}

func (r *ParticipationRepository) listWhere(keep func(*model.CourseParticipation) bool) []model.CourseParticipation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.CourseParticipation{}
	for _, p := range r.rows {
		if keep(p) {
			out = append(out, *cloneParticipation(p))
		}
	}
	return out
}

func (r *ParticipationRepository) CountLive(ctx context.Context, courseID string) (int, error) {
	return len(r.listWhere(func(p *model.CourseParticipation) bool {
		return p.CourseID == courseID && p.Virtual == model.VirtualLive
	})), nil
}
