package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// Member-set kinds stored in the course_members table.
const (
	MemberAuthor           = "author"
	MemberCurator          = "curator"
	MemberTester           = "tester"
	MemberSpectator        = "spectator"
	MemberViewScoreboard   = "view_scoreboard"
	MemberPrivate          = "private_member"
	MemberOrganization     = "organization"
	MemberClass            = "class"
	MemberBanned           = "banned"
	MemberJoinOrganization = "join_organization"
)

type CourseRepository interface {
	Create(ctx context.Context, tx *sql.Tx, c *model.Course) error
	Update(ctx context.Context, tx *sql.Tx, c *model.Course) error
	FindByKey(ctx context.Context, key string) (*model.Course, error)
	FindByID(ctx context.Context, id string) (*model.Course, error)
	ListAll(ctx context.Context) ([]model.Course, error)

	SetVisibility(ctx context.Context, ids []string, visible bool) (int64, error)
	SetLockedAfter(ctx context.Context, tx *sql.Tx, courseID string, lockedAfter *time.Time) error
	SetUserCount(ctx context.Context, courseID string, count int) error

	AddMember(ctx context.Context, tx *sql.Tx, courseID, memberID, kind string) error
	RemoveMember(ctx context.Context, tx *sql.Tx, courseID, memberID, kind string) error

	CreateProblems(ctx context.Context, tx *sql.Tx, problems []model.CourseProblem) error
	CreateTheories(ctx context.Context, tx *sql.Tx, theories []model.CourseTheory) error
	CreateTests(ctx context.Context, tx *sql.Tx, tests []model.CourseTest) error
	ListTheories(ctx context.Context, courseID string) ([]model.CourseTheory, error)
	ListTests(ctx context.Context, courseID string) ([]model.CourseTest, error)
}

type pgCourseRepository struct {
	db *sql.DB
}

func NewPgCourseRepository(db *sql.DB) CourseRepository {
	return &pgCourseRepository{db: db}
}

const courseColumns = `id, key, name, start_time, end_time, time_limit_seconds,
       is_visible, is_rated, is_private, is_organization_private,
       scoreboard_visibility, tester_see_scoreboard, limit_join_organizations,
       access_code, locked_after, format_name, format_config,
       problem_label_script, points_precision, user_count, created_at, updated_at`

func (r *pgCourseRepository) Create(ctx context.Context, tx *sql.Tx, c *model.Course) error {
	query := `INSERT INTO courses (id, key, name, start_time, end_time, time_limit_seconds,
	              is_visible, is_rated, is_private, is_organization_private,
	              scoreboard_visibility, tester_see_scoreboard, limit_join_organizations,
	              access_code, locked_after, format_name, format_config,
	              problem_label_script, points_precision, user_count)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	args := []interface{}{
		c.ID, c.Key, c.Name, c.StartTime, c.EndTime, durationSeconds(c.TimeLimit),
		c.IsVisible, c.IsRated, c.IsPrivate, c.IsOrganizationPrivate,
		string(c.ScoreboardVisibility), c.TesterSeeScoreboard, c.LimitJoinOrganizations,
		c.AccessCode, c.LockedAfter, c.FormatName, nullableJSON(c.FormatConfig),
		c.ProblemLabelScript, c.PointsPrecision, c.UserCount,
	}
	_, err := exec(ctx, r.db, tx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint for key
			return fmt.Errorf("course with this key already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgCourseRepository.Create: %w", err)
	}
	return nil
}

func (r *pgCourseRepository) Update(ctx context.Context, tx *sql.Tx, c *model.Course) error {
	query := `UPDATE courses SET
	              name = $1, start_time = $2, end_time = $3, time_limit_seconds = $4,
	              is_visible = $5, is_rated = $6, is_private = $7, is_organization_private = $8,
	              scoreboard_visibility = $9, tester_see_scoreboard = $10,
	              limit_join_organizations = $11, access_code = $12, locked_after = $13,
	              format_name = $14, format_config = $15, problem_label_script = $16,
	              points_precision = $17, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $18`

	args := []interface{}{
		c.Name, c.StartTime, c.EndTime, durationSeconds(c.TimeLimit),
		c.IsVisible, c.IsRated, c.IsPrivate, c.IsOrganizationPrivate,
		string(c.ScoreboardVisibility), c.TesterSeeScoreboard,
		c.LimitJoinOrganizations, c.AccessCode, c.LockedAfter,
		c.FormatName, nullableJSON(c.FormatConfig), c.ProblemLabelScript,
		c.PointsPrecision, c.ID,
	}
	if _, err := exec(ctx, r.db, tx, query, args...); err != nil {
		return fmt.Errorf("pgCourseRepository.Update: %w", err)
	}
	return nil
}

func (r *pgCourseRepository) FindByKey(ctx context.Context, key string) (*model.Course, error) {
	return r.findOne(ctx, `SELECT `+courseColumns+` FROM courses WHERE key = $1`, key)
}

func (r *pgCourseRepository) FindByID(ctx context.Context, id string) (*model.Course, error) {
	return r.findOne(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
}

func (r *pgCourseRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.Course, error) {
	c, err := scanCourse(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgCourseRepository.findOne: %w", err)
	}
	if err := r.loadMembers(ctx, c); err != nil {
		return nil, err
	}
	if err := r.loadProblems(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *pgCourseRepository) ListAll(ctx context.Context) ([]model.Course, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY start_time DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("pgCourseRepository.ListAll query: %w", err)
	}
	defer rows.Close()

	courses := []model.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("pgCourseRepository.ListAll scan: %w", err)
		}
		courses = append(courses, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgCourseRepository.ListAll rows.Err: %w", err)
	}
	// Member sets drive the access policy, so lists load them too.
	for i := range courses {
		if err := r.loadMembers(ctx, &courses[i]); err != nil {
			return nil, err
		}
	}
	return courses, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCourse(row rowScanner) (*model.Course, error) {
	c := &model.Course{}
	var timeLimit sql.NullInt64
	var visibility string
	var formatConfig []byte
	err := row.Scan(
		&c.ID, &c.Key, &c.Name, &c.StartTime, &c.EndTime, &timeLimit,
		&c.IsVisible, &c.IsRated, &c.IsPrivate, &c.IsOrganizationPrivate,
		&visibility, &c.TesterSeeScoreboard, &c.LimitJoinOrganizations,
		&c.AccessCode, &c.LockedAfter, &c.FormatName, &formatConfig,
		&c.ProblemLabelScript, &c.PointsPrecision, &c.UserCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if timeLimit.Valid {
		d := time.Duration(timeLimit.Int64) * time.Second
		c.TimeLimit = &d
	}
	c.ScoreboardVisibility = model.ScoreboardVisibility(visibility)
	c.FormatConfig = formatConfig
	return c, nil
}

func (r *pgCourseRepository) loadMembers(ctx context.Context, c *model.Course) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT member_id, kind FROM course_members WHERE course_id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("pgCourseRepository.loadMembers query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memberID, kind string
		if err := rows.Scan(&memberID, &kind); err != nil {
			return fmt.Errorf("pgCourseRepository.loadMembers scan: %w", err)
		}
		switch kind {
		case MemberAuthor:
			c.AuthorIDs = append(c.AuthorIDs, memberID)
		case MemberCurator:
			c.CuratorIDs = append(c.CuratorIDs, memberID)
		case MemberTester:
			c.TesterIDs = append(c.TesterIDs, memberID)
		case MemberSpectator:
			c.SpectatorIDs = append(c.SpectatorIDs, memberID)
		case MemberViewScoreboard:
			c.ViewScoreboardIDs = append(c.ViewScoreboardIDs, memberID)
		case MemberPrivate:
			c.PrivateMemberIDs = append(c.PrivateMemberIDs, memberID)
		case MemberOrganization:
			c.OrganizationIDs = append(c.OrganizationIDs, memberID)
		case MemberClass:
			c.ClassIDs = append(c.ClassIDs, memberID)
		case MemberBanned:
			c.BannedUserIDs = append(c.BannedUserIDs, memberID)
		case MemberJoinOrganization:
			c.JoinOrganizationIDs = append(c.JoinOrganizationIDs, memberID)
		}
	}
	return rows.Err()
}

func (r *pgCourseRepository) loadProblems(ctx context.Context, c *model.Course) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, course_id, problem_id, points, partial, is_pretested, ord, max_submissions
		 FROM course_problems WHERE course_id = $1 ORDER BY ord`, c.ID)
	if err != nil {
		return fmt.Errorf("pgCourseRepository.loadProblems query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cp model.CourseProblem
		var maxSubs sql.NullInt64
		if err := rows.Scan(&cp.ID, &cp.CourseID, &cp.ProblemID, &cp.Points, &cp.Partial,
			&cp.IsPretested, &cp.Order, &maxSubs); err != nil {
			return fmt.Errorf("pgCourseRepository.loadProblems scan: %w", err)
		}
		if maxSubs.Valid {
			v := int(maxSubs.Int64)
			cp.MaxSubmissions = &v
		}
		c.Problems = append(c.Problems, cp)
	}
	return rows.Err()
}

func (r *pgCourseRepository) SetVisibility(ctx context.Context, ids []string, visible bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE courses SET is_visible = $1, updated_at = CURRENT_TIMESTAMP WHERE id = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, visible, ids)
	if err != nil {
		return 0, fmt.Errorf("pgCourseRepository.SetVisibility: %w", err)
	}
	return res.RowsAffected()
}

func (r *pgCourseRepository) SetLockedAfter(ctx context.Context, tx *sql.Tx, courseID string, lockedAfter *time.Time) error {
	query := `UPDATE courses SET locked_after = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	if _, err := exec(ctx, r.db, tx, query, lockedAfter, courseID); err != nil {
		return fmt.Errorf("pgCourseRepository.SetLockedAfter: %w", err)
	}
	return nil
}

func (r *pgCourseRepository) SetUserCount(ctx context.Context, courseID string, count int) error {
	query := `UPDATE courses SET user_count = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, count, courseID); err != nil {
		return fmt.Errorf("pgCourseRepository.SetUserCount: %w", err)
	}
	return nil
}

func (r *pgCourseRepository) AddMember(ctx context.Context, tx *sql.Tx, courseID, memberID, kind string) error {
	query := `INSERT INTO course_members (course_id, member_id, kind) VALUES ($1, $2, $3)
	          ON CONFLICT DO NOTHING`
	if _, err := exec(ctx, r.db, tx, query, courseID, memberID, kind); err != nil {
		return fmt.Errorf("pgCourseRepository.AddMember: %w", err)
	}
	return nil
}

func (r *pgCourseRepository) RemoveMember(ctx context.Context, tx *sql.Tx, courseID, memberID, kind string) error {
	query := `DELETE FROM course_members WHERE course_id = $1 AND member_id = $2 AND kind = $3`
	if _, err := exec(ctx, r.db, tx, query, courseID, memberID, kind); err != nil {
		return fmt.Errorf("pgCourseRepository.RemoveMember: %w", err)
	}
	return nil
}

func (r *pgCourseRepository) CreateProblems(ctx context.Context, tx *sql.Tx, problems []model.CourseProblem) error {
	if len(problems) == 0 {
		return nil
	}
	query := `INSERT INTO course_problems (id, course_id, problem_id, points, partial, is_pretested, ord, max_submissions)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, cp := range problems {
		var maxSubs interface{}
		if cp.MaxSubmissions != nil {
			maxSubs = *cp.MaxSubmissions
		}
		if _, err := exec(ctx, r.db, tx, query, cp.ID, cp.CourseID, cp.ProblemID,
			cp.Points, cp.Partial, cp.IsPretested, cp.Order, maxSubs); err != nil {
			return fmt.Errorf("pgCourseRepository.CreateProblems exec for %s: %w", cp.ID, err)
		}
	}
	return nil
}

func (r *pgCourseRepository) CreateTheories(ctx context.Context, tx *sql.Tx, theories []model.CourseTheory) error {
	query := `INSERT INTO course_theories (id, course_id, theory_id, ord) VALUES ($1, $2, $3, $4)`
	for _, ct := range theories {
		if _, err := exec(ctx, r.db, tx, query, ct.ID, ct.CourseID, ct.TheoryID, ct.Order); err != nil {
			return fmt.Errorf("pgCourseRepository.CreateTheories exec for %s: %w", ct.ID, err)
		}
	}
	return nil
}

func (r *pgCourseRepository) CreateTests(ctx context.Context, tx *sql.Tx, tests []model.CourseTest) error {
	query := `INSERT INTO course_tests (id, course_id, test_id, ord) VALUES ($1, $2, $3, $4)`
	for _, ct := range tests {
		if _, err := exec(ctx, r.db, tx, query, ct.ID, ct.CourseID, ct.TestID, ct.Order); err != nil {
			return fmt.Errorf("pgCourseRepository.CreateTests exec for %s: %w", ct.ID, err)
		}
	}
	return nil
}

func (r *pgCourseRepository) ListTheories(ctx context.Context, courseID string) ([]model.CourseTheory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, course_id, theory_id, ord FROM course_theories WHERE course_id = $1 ORDER BY ord`, courseID)
	if err != nil {
		return nil, fmt.Errorf("pgCourseRepository.ListTheories query: %w", err)
	}
	defer rows.Close()

	var out []model.CourseTheory
	for rows.Next() {
		var ct model.CourseTheory
		if err := rows.Scan(&ct.ID, &ct.CourseID, &ct.TheoryID, &ct.Order); err != nil {
			return nil, fmt.Errorf("pgCourseRepository.ListTheories scan: %w", err)
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (r *pgCourseRepository) ListTests(ctx context.Context, courseID string) ([]model.CourseTest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, course_id, test_id, ord FROM course_tests WHERE course_id = $1 ORDER BY ord`, courseID)
	if err != nil {
		return nil, fmt.Errorf("pgCourseRepository.ListTests query: %w", err)
	}
	defer rows.Close()

	var out []model.CourseTest
	for rows.Next() {
		var ct model.CourseTest
		if err := rows.Scan(&ct.ID, &ct.CourseID, &ct.TestID, &ct.Order); err != nil {
			return nil, fmt.Errorf("pgCourseRepository.ListTests scan: %w", err)
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// exec runs a statement on the transaction when one is supplied.
func exec(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func durationSeconds(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return int64(*d / time.Second)
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
