package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"bcpea_notifier/internal/filter"
	"bcpea_notifier/internal/model"
	"bcpea_notifier/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account and populates its ID and CreatedAt.
// An empty status defaults to pending.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return errors.New("insert user: email is required")
	}
	if u.Status == "" {
		u.Status = model.UserPending
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_user (name, email, status, created_at) VALUES (?, ?, ?, ?)`,
		u.Name, email, string(u.Status), now,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.Email = email
	u.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetUserByEmail returns the account registered with email.
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, status, created_at FROM auth_user WHERE email = ?`,
		strings.TrimSpace(email),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all accounts, newest first.
func (s *SQLite) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, status, created_at FROM auth_user ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ApproveUser marks an account as approved so it receives notifications.
func (s *SQLite) ApproveUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auth_user SET status = ? WHERE id = ?`, string(model.UserApproved), id,
	)
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	return expectAffected(res, "user", id)
}

// DeleteUser removes an account and its subscriptions.
func (s *SQLite) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_filters WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("delete user_filters: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM auth_user WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := expectAffected(res, "user", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateFilterGroup inserts a filter group, subscribes g.Subscribers to it and populates its ID.
func (s *SQLite) CreateFilterGroup(ctx context.Context, g *model.FilterGroup) error {
	if err := validateGroup(g); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO filter_groups (type, court, settlements, excluded_property_types, blacklist,
		                            required_title_words, required_description_words, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(g.Category), g.Court,
		filter.JoinList(g.Rules.Settlements),
		filter.JoinList(g.Rules.ExcludedTypes),
		filter.JoinList(g.Rules.BlacklistTerms),
		filter.JoinList(g.Rules.RequiredTitleWords),
		filter.JoinList(g.Rules.RequiredDescriptionWords),
		now,
	)
	if err != nil {
		return fmt.Errorf("insert filter group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if err := subscribe(ctx, tx, id, g.Subscribers); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	g.ID = id
	return nil
}

// UpdateFilterGroup replaces the rules and subscribers of an existing filter group.
func (s *SQLite) UpdateFilterGroup(ctx context.Context, g *model.FilterGroup) error {
	if err := validateGroup(g); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE filter_groups
		 SET type = ?, court = ?, settlements = ?, excluded_property_types = ?, blacklist = ?,
		     required_title_words = ?, required_description_words = ?
		 WHERE id = ?`,
		string(g.Category), g.Court,
		filter.JoinList(g.Rules.Settlements),
		filter.JoinList(g.Rules.ExcludedTypes),
		filter.JoinList(g.Rules.BlacklistTerms),
		filter.JoinList(g.Rules.RequiredTitleWords),
		filter.JoinList(g.Rules.RequiredDescriptionWords),
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("update filter group: %w", err)
	}
	if err := expectAffected(res, "filter group", g.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_filters WHERE filter_group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("delete user_filters: %w", err)
	}
	if err := subscribe(ctx, tx, g.ID, g.Subscribers); err != nil {
		return err
	}
	return tx.Commit()
}

// GetFilterGroup returns a filter group with all of its subscribers.
func (s *SQLite) GetFilterGroup(ctx context.Context, id int64) (*model.FilterGroup, error) {
	groups, err := s.listGroups(ctx, `WHERE fg.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("filter group %d: %w", id, ErrNotFound)
	}
	return &groups[0], nil
}

// ListFilterGroups returns every filter group, newest first, with all subscribers.
func (s *SQLite) ListFilterGroups(ctx context.Context) ([]model.FilterGroup, error) {
	return s.listGroups(ctx, "")
}

// DeleteFilterGroup removes a filter group and its subscriptions.
func (s *SQLite) DeleteFilterGroup(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_filters WHERE filter_group_id = ?`, id); err != nil {
		return fmt.Errorf("delete user_filters: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM filter_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter group: %w", err)
	}
	if err := expectAffected(res, "filter group", id); err != nil {
		return err
	}
	return tx.Commit()
}

// ActiveFilterRows returns one row per (filter group, approved subscriber).
// Groups without an approved subscriber are not active and produce no rows.
func (s *SQLite) ActiveFilterRows(ctx context.Context) ([]model.FilterRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fg.id, fg.type, fg.court, fg.settlements, fg.excluded_property_types, fg.blacklist,
		        fg.required_title_words, fg.required_description_words, u.email
		 FROM filter_groups fg
		 JOIN user_filters uf ON fg.id = uf.filter_group_id
		 JOIN auth_user u ON uf.user_id = u.id
		 WHERE u.status = ?
		 ORDER BY fg.id, u.email`,
		string(model.UserApproved),
	)
	if err != nil {
		return nil, fmt.Errorf("query active filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FilterRow
	for rows.Next() {
		var r model.FilterRow
		var category string
		var settlements, excluded, blacklist, title, desc sql.NullString
		if err := rows.Scan(&r.GroupID, &category, &r.Court, &settlements, &excluded, &blacklist,
			&title, &desc, &r.Email); err != nil {
			return nil, fmt.Errorf("scan filter row: %w", err)
		}
		r.Category = model.Category(category)
		r.Settlements = nullToPtr(settlements)
		r.ExcludedTypes = nullToPtr(excluded)
		r.Blacklist = nullToPtr(blacklist)
		r.RequiredTitleWords = nullToPtr(title)
		r.RequiredDescriptionWords = nullToPtr(desc)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) listGroups(ctx context.Context, where string, args ...any) ([]model.FilterGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fg.id, fg.type, fg.court, fg.settlements, fg.excluded_property_types, fg.blacklist,
		        fg.required_title_words, fg.required_description_words
		 FROM filter_groups fg `+where+`
		 ORDER BY fg.created_at DESC, fg.id DESC`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query filter groups: %w", err)
	}

	var groups []model.FilterGroup
	index := make(map[int64]int)
	for rows.Next() {
		var g model.FilterGroup
		var category string
		var settlements, excluded, blacklist, title, desc sql.NullString
		if err := rows.Scan(&g.ID, &category, &g.Court, &settlements, &excluded, &blacklist, &title, &desc); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan filter group: %w", err)
		}
		g.Category = model.Category(category)
		g.Rules = model.FilterRules{
			Settlements:              filter.ParseList(nullToPtr(settlements)),
			ExcludedTypes:            filter.ParseList(nullToPtr(excluded)),
			BlacklistTerms:           filter.ParseList(nullToPtr(blacklist)),
			RequiredTitleWords:       filter.ParseList(nullToPtr(title)),
			RequiredDescriptionWords: filter.ParseList(nullToPtr(desc)),
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate filter groups: %w", err)
	}
	_ = rows.Close()

	if len(groups) == 0 {
		return nil, nil
	}

	subs, err := s.db.QueryContext(ctx,
		`SELECT uf.filter_group_id, u.email
		 FROM user_filters uf JOIN auth_user u ON uf.user_id = u.id
		 ORDER BY u.email`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = subs.Close() }()

	for subs.Next() {
		var groupID int64
		var email string
		if err := subs.Scan(&groupID, &email); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		if i, ok := index[groupID]; ok {
			groups[i].Subscribers = append(groups[i].Subscribers, email)
		}
	}
	return groups, subs.Err()
}

func subscribe(ctx context.Context, tx *sql.Tx, groupID int64, emails []string) error {
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		var userID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM auth_user WHERE email = ?`, email).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("subscriber %q: %w", email, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup subscriber: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_filters (user_id, filter_group_id) VALUES (?, ?)`,
			userID, groupID,
		); err != nil {
			return fmt.Errorf("insert user_filter: %w", err)
		}
	}
	return nil
}

func validateGroup(g *model.FilterGroup) error {
	if !g.Category.Valid() {
		return fmt.Errorf("category %q: %w", g.Category, ErrInvalidCategory)
	}
	if g.Court < 0 || g.Court > MaxCourt {
		return fmt.Errorf("court %d: %w", g.Court, ErrInvalidCourt)
	}
	return nil
}

func expectAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (model.User, error) {
	var u model.User
	var status, created string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return u, fmt.Errorf("scan user: %w", err)
	}
	u.Status = model.UserStatus(status)
	u.CreatedAt, _ = time.Parse(timeLayout, created)
	return u, nil
}
