package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// UserRepository persists registered accounts. Validators without accounts
// never appear here; they act through decision tokens.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, name, email, password_hash, is_active, created_at, updated_at"

// Create inserts a user row
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		constants.TableUser, userColumns)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.PasswordHash, user.IsActive,
		user.CreatedAt, user.UpdatedAt)
	return err
}

// FindByID fetches a user by id, nil if absent.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, userColumns, constants.TableUser)
	return r.scanUser(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
}

// FindByEmail fetches a user by email, nil if absent.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = ?`, userColumns, constants.TableUser)
	return r.scanUser(executorFor(ctx, r.db).QueryRowContext(ctx, query, email))
}

// ExistsByEmail reports whether an account exists for the email.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE email = ?)`, constants.TableUser)
	var exists bool
	err := executorFor(ctx, r.db).QueryRowContext(ctx, query, email).Scan(&exists)
	return exists, err
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
