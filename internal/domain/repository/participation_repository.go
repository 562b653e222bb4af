package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type ParticipationRepository interface {
	// Create inserts a participation; a duplicate (course, user, virtual)
	// surfaces as common.ErrConflict so callers can retry optimistically.
	Create(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error
	Update(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error
	GetByID(ctx context.Context, id string) (*model.CourseParticipation, error)
	Get(ctx context.Context, courseID, userID string, virtual int) (*model.CourseParticipation, error)
	MaxVirtual(ctx context.Context, courseID, userID string) (int, error)
	ListLive(ctx context.Context, courseID string) ([]model.CourseParticipation, error)
	ListByCourse(ctx context.Context, courseID string) ([]model.CourseParticipation, error)
	CountLive(ctx context.Context, courseID string) (int, error)
}

type pgParticipationRepository struct {
	db *sql.DB
}

func NewPgParticipationRepository(db *sql.DB) ParticipationRepository {
	return &pgParticipationRepository{db: db}
}

const participationColumns = `p.id, p.course_id, p.user_id, p.real_start, p.score, p.cumtime,
       p.tiebreaker, p.is_disqualified, p.virtual, p.format_data, u.username`

const participationFrom = ` FROM course_participations p JOIN users u ON p.user_id = u.id `

func (r *pgParticipationRepository) Create(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error {
	query := `INSERT INTO course_participations
	              (id, course_id, user_id, real_start, score, cumtime, tiebreaker, is_disqualified, virtual, format_data)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := exec(ctx, r.db, tx, query, p.ID, p.CourseID, p.UserID, p.RealStart,
		p.Score, p.CumTime, p.Tiebreaker, p.IsDisqualified, p.Virtual, nullableJSON(p.FormatData))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // (course, user, virtual) uniqueness
			return fmt.Errorf("participation already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgParticipationRepository.Create: %w", err)
	}
	return nil
}

func (r *pgParticipationRepository) Update(ctx context.Context, tx *sql.Tx, p *model.CourseParticipation) error {
	query := `UPDATE course_participations SET
	              score = $1, cumtime = $2, tiebreaker = $3, is_disqualified = $4, format_data = $5
	          WHERE id = $6`
	if _, err := exec(ctx, r.db, tx, query, p.Score, p.CumTime, p.Tiebreaker,
		p.IsDisqualified, nullableJSON(p.FormatData), p.ID); err != nil {
		return fmt.Errorf("pgParticipationRepository.Update: %w", err)
	}
	return nil
}

func (r *pgParticipationRepository) GetByID(ctx context.Context, id string) (*model.CourseParticipation, error) {
	query := `SELECT ` + participationColumns + participationFrom + `WHERE p.id = $1`
	return r.getOne(ctx, query, id)
}

func (r *pgParticipationRepository) Get(ctx context.Context, courseID, userID string, virtual int) (*model.CourseParticipation, error) {
	query := `SELECT ` + participationColumns + participationFrom +
		`WHERE p.course_id = $1 AND p.user_id = $2 AND p.virtual = $3`
	return r.getOne(ctx, query, courseID, userID, virtual)
}

func (r *pgParticipationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.CourseParticipation, error) {
	p, err := scanParticipation(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgParticipationRepository.getOne: %w", err)
	}
	return p, nil
}

func (r *pgParticipationRepository) MaxVirtual(ctx context.Context, courseID, userID string) (int, error) {
	query := `SELECT COALESCE(MAX(virtual), 0) FROM course_participations
	          WHERE course_id = $1 AND user_id = $2`
	var max int
	if err := r.db.QueryRowContext(ctx, query, courseID, userID).Scan(&max); err != nil {
		return 0, fmt.Errorf("pgParticipationRepository.MaxVirtual: %w", err)
	}
	return max, nil
}

func (r *pgParticipationRepository) ListLive(ctx context.Context, courseID string) ([]model.CourseParticipation, error) {
	query := `SELECT ` + participationColumns + participationFrom +
		`WHERE p.course_id = $1 AND p.virtual = 0`
	return r.list(ctx, query, courseID)
}

func (r *pgParticipationRepository) ListByCourse(ctx context.Context, courseID string) ([]model.CourseParticipation, error) {
	query := `SELECT ` + participationColumns + participationFrom + `WHERE p.course_id = $1`
	return r.list(ctx, query, courseID)
}

func (r *pgParticipationRepository) list(ctx context.Context, query string, args ...interface{}) ([]model.CourseParticipation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgParticipationRepository.list query: %w", err)
	}
	defer rows.Close()

	parts := []model.CourseParticipation{}
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("pgParticipationRepository.list scan: %w", err)
		}
		parts = append(parts, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgParticipationRepository.list rows.Err: %w", err)
	}
	return parts, nil
}

func (r *pgParticipationRepository) CountLive(ctx context.Context, courseID string) (int, error) {
	query := `SELECT COUNT(*) FROM course_participations WHERE course_id = $1 AND virtual = 0`
	var count int
	if err := r.db.QueryRowContext(ctx, query, courseID).Scan(&count); err != nil {
		return 0, fmt.Errorf("pgParticipationRepository.CountLive: %w", err)
	}
	return count, nil
}

func scanParticipation(row rowScanner) (*model.CourseParticipation, error) {
	p := &model.CourseParticipation{}
	var formatData []byte
	err := row.Scan(&p.ID, &p.CourseID, &p.UserID, &p.RealStart, &p.Score, &p.CumTime,
		&p.Tiebreaker, &p.IsDisqualified, &p.Virtual, &formatData, &p.Username)
	if err != nil {
		return nil, err
	}
	p.FormatData = formatData
	return p, nil
}
