package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
)

// Repository persists login identities.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// PGRepository stores users in PostgreSQL.
type PGRepository struct{ db *db.DB }

// NewPGRepository creates a PostgreSQL-backed repository.
func NewPGRepository(d *db.DB) *PGRepository { return &PGRepository{db: d} }

func (r *PGRepository) Create(ctx context.Context, u *User) error {
	_, err := r.db.Q(ctx).Exec(ctx,
		`INSERT INTO users (id,name,email,phone,password_hash,role,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflictf("email already exists")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.get(ctx, `WHERE id=$1`, id)
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, `WHERE lower(email)=lower($1)`, email)
}

func (r *PGRepository) get(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	err := r.db.Q(ctx).QueryRow(ctx,
		`SELECT id,name,email,phone,password_hash,role,created_at FROM users `+where, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("user not found")
	}
	if db.IsInvalidInput(err) {
		return nil, apperr.BadRequestf("invalid user id")
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

// MemoryRepository keeps users in memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]User
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]User{}}
}

func (r *MemoryRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperr.Conflictf("email already exists")
		}
	}
	r.byID[u.ID] = *u
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("user not found")
	}
	return &u, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, apperr.NotFoundf("user not found")
}
