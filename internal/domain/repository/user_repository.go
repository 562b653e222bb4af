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

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	// SetCurrentParticipation moves the user's "current course" pointer; nil
	// clears it. The referenced participation row is never touched.
	SetCurrentParticipation(ctx context.Context, tx *sql.Tx, userID string, participationID *string) error
}

type pgUserRepository struct {
	db *sql.DB
}

func NewPgUserRepository(db *sql.DB) UserRepository {
	return &pgUserRepository{db: db}
}

func (r *pgUserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (id, username, email, hashed_password, role, is_superuser)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Email,
		user.HashedPassword, user.Role, user.IsSuperuser)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint violation
			return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgUserRepository.Create: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, hashed_password, role, is_superuser,
       current_participation_id, created_at, updated_at`

func (r *pgUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *pgUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *pgUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *pgUserRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	user := &model.User{}
	var current sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.HashedPassword, &user.Role,
		&user.IsSuperuser, &current, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgUserRepository.findOne: %w", err)
	}
	if current.Valid {
		user.CurrentParticipationID = &current.String
	}
	if err := r.loadGroups(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *pgUserRepository) loadGroups(ctx context.Context, user *model.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id, kind FROM user_groups WHERE user_id = $1`, user.ID)
	if err != nil {
		return fmt.Errorf("pgUserRepository.loadGroups query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupID, kind string
		if err := rows.Scan(&groupID, &kind); err != nil {
			return fmt.Errorf("pgUserRepository.loadGroups scan: %w", err)
		}
		switch kind {
		case "organization":
			user.OrganizationIDs = append(user.OrganizationIDs, groupID)
		case "class":
			user.ClassIDs = append(user.ClassIDs, groupID)
		case "perm":
			user.Perms = append(user.Perms, groupID)
		}
	}
	return rows.Err()
}

func (r *pgUserRepository) SetCurrentParticipation(ctx context.Context, tx *sql.Tx, userID string, participationID *string) error {
	query := `UPDATE users SET current_participation_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	var arg interface{}
	if participationID != nil {
		arg = *participationID
	}
	if _, err := exec(ctx, r.db, tx, query, arg, userID); err != nil {
		return fmt.Errorf("pgUserRepository.SetCurrentParticipation: %w", err)
	}
	return nil
}
