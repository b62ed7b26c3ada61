package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"brfportal.se/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps a database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore               { return &userStore{db: s.db} }
func (s *PGStore) Cooperatives(context.Context) CooperativeStore { return &coopStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore         { return &sessionStore{db: s.db} }
func (s *PGStore) Memberships(context.Context) MembershipStore   { return &membershipStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, email, role, active_cooperative_id, active, permission_overrides, password_hash, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	overrides, err := json.Marshal(u.PermissionOverrides)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, email, role, active_cooperative_id, active, permission_overrides, password_hash)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Email, u.Role.String(), u.ActiveCooperativeID, u.Active, overrides, u.PasswordHash)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func (s *userStore) UpdateRole(ctx context.Context, userID string, role Role) error {
	if !role.Valid() {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update users set role = $1, updated_at = now() where id = $2`,
		role.String(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set active = $1, updated_at = now() where id = $2`,
		active, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		role      string
		overrides []byte
	)
	err := row.Scan(&u.ID, &u.Email, &role, &u.ActiveCooperativeID, &u.Active,
		&overrides, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = ParseRole(role)
	if len(overrides) > 0 {
		_ = json.Unmarshal(overrides, &u.PermissionOverrides)
	}
	return &u, nil
}

// Cooperative store --------------------------------------------------------
type coopStore struct{ db *sql.DB }

const coopColumns = `id, name, org_number, subdomain, active, test_data, created_at, updated_at`

func (s *coopStore) Create(ctx context.Context, c *Cooperative) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into cooperatives (id, name, org_number, subdomain, active, test_data)
		values ($1,$2,$3,$4,$5,$6)
	`, c.ID, c.Name, c.OrgNumber, c.Subdomain, c.Active, c.TestData)
	return err
}

func (s *coopStore) Find(ctx context.Context, id string) (*Cooperative, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+coopColumns+` from cooperatives where id = $1`, id)
	var c Cooperative
	err := row.Scan(&c.ID, &c.Name, &c.OrgNumber, &c.Subdomain, &c.Active,
		&c.TestData, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *coopStore) List(ctx context.Context) ([]*Cooperative, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+coopColumns+` from cooperatives order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Cooperative
	for rows.Next() {
		var c Cooperative
		if err := rows.Scan(&c.ID, &c.Name, &c.OrgNumber, &c.Subdomain,
			&c.Active, &c.TestData, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, cooperative_id, token_hash, ip, user_agent, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.UserID, sess.CooperativeID, sess.TokenHash, sess.IP,
		sess.UserAgent, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, cooperative_id, token_hash, ip, user_agent, created_at, expires_at, revoked_at
		from sessions where id = $1
	`, id)
	var (
		sess      Session
		revokedAt sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CooperativeID, &sess.TokenHash,
		&sess.IP, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

func (s *sessionStore) RotateToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set token_hash = $1, expires_at = $2
		where id = $3 and revoked_at is null
	`, tokenHash, expiresAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at = now() where id = $1 and revoked_at is null`, id)
	return err
}

func (s *sessionStore) RevokeByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at = now() where user_id = $1 and revoked_at is null`, userID)
	return err
}

// Membership store ----------------------------------------------------------
type membershipStore struct{ db *sql.DB }

func (s *membershipStore) Find(ctx context.Context, userID, cooperativeID string) (*Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		select user_id, cooperative_id, role, active, created_at
		from memberships where user_id = $1 and cooperative_id = $2
	`, userID, cooperativeID)
	var (
		m    Membership
		role string
	)
	err := row.Scan(&m.UserID, &m.CooperativeID, &role, &m.Active, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Role = ParseRole(role)
	return &m, nil
}

func (s *membershipStore) ForUser(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, cooperative_id, role, active, created_at
		from memberships where user_id = $1 and active order by cooperative_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Membership
	for rows.Next() {
		var (
			m    Membership
			role string
		)
		if err := rows.Scan(&m.UserID, &m.CooperativeID, &role, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = ParseRole(role)
		result = append(result, m)
	}
	return result, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
