package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Code-co-tech/cyber-doc-server/internal/model"
)

// DB is the slice of pgxpool.Pool the store needs. pgxmock satisfies it too,
// which is what the tests run against.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// DuplicateError reports a unique-constraint violation. Field is the user
// field that collided, or empty when the constraint is not one of ours.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return "duplicate value"
	}
	return e.Field + " already taken"
}

const userColumns = `id, email, username, password_hash, first_name, last_name, middle_name, phone, country, university, speciality, is_active, is_staff, is_superuser, date_joined, updated_at`

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.MiddleName,
		user.Phone,
		user.Country,
		user.University,
		user.Speciality,
		user.IsActive,
		user.IsStaff,
		user.IsSuperuser,
		user.DateJoined,
		user.UpdatedAt,
	)
	return mapConstraintError(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, userID)
	return scanUser(row)
}

// UserUpdate is the allow-list of client-mutable profile fields. Nil means
// "leave unchanged"; email and password have dedicated flows and are not
// updatable here.
type UserUpdate struct {
	Username   *string
	FirstName  *string
	LastName   *string
	MiddleName *string
	Phone      *string
	Country    *string
	University *string
	Speciality *string
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update UserUpdate) (model.User, error) {
	var (
		set  []string
		args []any
	)
	add := func(column string, value *string) {
		if value != nil {
			args = append(args, *value)
			set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}
	add("username", update.Username)
	add("first_name", update.FirstName)
	add("last_name", update.LastName)
	add("middle_name", update.MiddleName)
	add("phone", update.Phone)
	add("country", update.Country)
	add("university", update.University)
	add("speciality", update.Speciality)

	if len(set) == 0 {
		return s.GetUserByID(ctx, userID)
	}

	args = append(args, time.Now().UTC())
	set = append(set, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, userID)

	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE users SET %s
		WHERE id = $%d
		RETURNING `+userColumns,
		strings.Join(set, ", "), len(args)), args...)
	user, err := scanUser(row)
	if err != nil {
		return model.User{}, mapConstraintError(err)
	}
	return user, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3
	`, passwordHash, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]model.Group, 0)
	for rows.Next() {
		var group model.Group
		if err := rows.Scan(&group.ID, &group.Name); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.MiddleName,
		&user.Phone,
		&user.Country,
		&user.University,
		&user.Speciality,
		&user.IsActive,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.DateJoined,
		&user.UpdatedAt,
	)
	return user, err
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return &DuplicateError{Field: constraintField(pgErr.ConstraintName)}
	}
	return err
}

func constraintField(constraint string) string {
	switch constraint {
	case "users_email_key":
		return "email"
	case "users_username_key":
		return "username"
	case "users_phone_key":
		return "phone"
	}
	return ""
}
