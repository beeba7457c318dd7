package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

// UserStore reads subscriber records. The pipeline never writes users; the
// account surface owns that table.
type UserStore struct {
	db DB
}

// NewUserStore wires the store to a pool.
func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, topics, format, frequency, notifications_enabled`

// ListSubscribed returns users with notifications enabled.
func (s *UserStore) ListSubscribed(ctx context.Context) ([]news.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE notifications_enabled = TRUE ORDER BY id;`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list subscribed users: %w", err)
	}
	defer rows.Close()

	var users []news.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, nil
}

// GetByEmail loads one user for the single-recipient manual trigger.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (news.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1;`
	u, err := scanUser(s.db.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return news.User{}, store.ErrNotFound
	}
	if err != nil {
		return news.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (news.User, error) {
	var u news.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Topics,
		&u.Preferences.Format,
		&u.Preferences.Frequency,
		&u.Preferences.NotificationsEnabled,
	)
	if err != nil {
		return news.User{}, err
	}
	return u, nil
}
