package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"passport.org/internal/audit"
	"passport.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts() AccountStore           { return &pgAccounts{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &pgRoles{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgTokens{db: s.db} }

// AppendAudit implements audit.Sink.
func (s *PGStore) AppendAudit(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	var accountID any
	if entry.AccountID != "" {
		accountID = entry.AccountID
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, account_id, action, ip, user_agent, success, error, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, accountID, entry.Action, entry.IP, entry.UserAgent, entry.Success, entry.Error, entry.OccurredAt)
	return err
}

const uniqueViolation = "23505"
const foreignKeyViolation = "23503"

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return ErrConflict
		case foreignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

// Account store ------------------------------------------------------------

type pgAccounts struct{ db *sql.DB }

const accountColumns = `id, email, password_hash, first_name, last_name, active, verified, last_login_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		a         Account
		lastLogin sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName,
		&a.Active, &a.Verified, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

func (s *pgAccounts) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = ids.New()
	}
	// The unique index on lower(email) is the final authority under racing
	// duplicate registrations.
	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, email, password_hash, first_name, last_name, active, verified)
		values ($1, lower($2), $3, $4, $5, $6, $7)
	`, account.ID, account.Email, account.PasswordHash, account.FirstName, account.LastName,
		account.Active, account.Verified)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *pgAccounts) Find(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *pgAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=lower($1)`, email))
}

func (s *pgAccounts) UpdateNames(ctx context.Context, id string, firstName, lastName *string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts
		set first_name = coalesce($2, first_name),
		    last_name  = coalesce($3, last_name),
		    updated_at = now()
		where id=$1
		returning `+accountColumns,
		id, firstName, lastName))
}

func (s *pgAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgAccounts) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set last_login_at=$2, updated_at=now() where id=$1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgAccounts) List(ctx context.Context, page, pageSize int) ([]*Account, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by id limit $1 offset $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}
	return accounts, total, rows.Err()
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

// Role store ---------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

func (s *pgRoles) Ensure(ctx context.Context, roles []Role) error {
	for _, role := range roles {
		id := role.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into roles(id, name, description)
			values ($1,$2,$3)
			on conflict (name) do nothing
		`, id, role.Name, role.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at from roles where lower(name)=lower($1)`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *pgRoles) Assign(ctx context.Context, accountID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		insert into account_roles(account_id, role_id)
		values ($1,$2)
		on conflict (account_id, role_id) do nothing
	`, accountID, roleID)
	if err != nil {
		return mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already assigned; assignment is idempotent and reports the
		// duplicate rather than inserting a second row.
		return ErrConflict
	}
	return nil
}

func (s *pgRoles) NamesFor(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from account_roles ar
		join roles r on r.id = ar.role_id
		where ar.account_id = $1
		order by r.name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Refresh token store ------------------------------------------------------

type pgTokens struct{ db *sql.DB }

func (s *pgTokens) Create(ctx context.Context, token *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(id, account_id, token_hash, expires_at, revoked)
		values ($1,$2,$3,$4,false)
	`, token.ID, token.AccountID, token.TokenHash, token.ExpiresAt)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

// Rotate flips the old row's revoked flag and inserts the replacement inside
// one transaction. The conditional update is the compare-and-swap: of two
// concurrent rotations of the same hash, the second sees zero rows and fails.
func (s *pgTokens) Rotate(ctx context.Context, oldHash string, now time.Time, next *RefreshToken) (*RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var old RefreshToken
	err = tx.QueryRowContext(ctx, `
		update refresh_tokens set revoked=true
		where token_hash=$1 and revoked=false and expires_at > $2
		returning id, account_id, token_hash, expires_at, created_at
	`, oldHash, now).Scan(&old.ID, &old.AccountID, &old.TokenHash, &old.ExpiresAt, &old.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	old.Revoked = true

	next.AccountID = old.AccountID
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens(id, account_id, token_hash, expires_at, revoked)
		values ($1,$2,$3,$4,false)
	`, next.ID, next.AccountID, next.TokenHash, next.ExpiresAt); err != nil {
		return nil, mapPGError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &old, nil
}

func (s *pgTokens) RevokeAll(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where account_id=$1 and revoked=false`, accountID)
	return err
}
