// Package sqlite implements the store ports on a local SQLite database, for
// running budgetly without an external REST data store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"budgetly/internal/core"
	"budgetly/internal/store"
)

type Repository struct {
	db *sql.DB
}

var _ store.Store = (*Repository)(nil)

// table describes how query fields map onto columns.
type table struct {
	name    string
	columns map[string]string
	text    []string
}

var (
	usersTable = table{
		name: "users",
		columns: map[string]string{
			"id": "id", "name": "name", "email": "email", "phone": "phone",
			"gender": "gender", "status": "COALESCE(status, 1)",
		},
		text: []string{"name", "email", "phone"},
	}
	categoriesTable = table{
		name: "categories",
		columns: map[string]string{
			"id": "id", "name": "name", "active": "COALESCE(active, 1)",
		},
		text: []string{"name"},
	}
	monthlyTable = table{
		name: "monthly_documents",
		columns: map[string]string{
			"id": "id", "userId": "user_id", "month": "month", "amount": "amount", "updatedAt": "updated_at",
		},
		text: []string{"month"},
	}
	transactionsTable = table{
		name: "transactions",
		columns: map[string]string{
			"id": "id", "userId": "user_id", "category": "category", "amount": "amount",
			"note": "note", "month": "month", "type": "type",
		},
		text: []string{"category", "note"},
	}
)

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Users

const userColumns = "id, name, email, phone, gender, password, status"

func scanUser(sc interface{ Scan(...any) error }) (core.User, error) {
	var (
		u      core.User
		id     int64
		status sql.NullBool
	)
	if err := sc.Scan(&id, &u.Name, &u.Email, &u.Phone, &u.Gender, &u.Password, &status); err != nil {
		return core.User{}, err
	}
	u.ID = formatID(id)
	if status.Valid {
		u.Status = core.Bool(status.Bool)
	}
	return u, nil
}

func (r *Repository) ListUsers(ctx context.Context, q store.Query) (store.Page[core.User], error) {
	return page(ctx, r.db, usersTable, userColumns, q, scanUser)
}

func (r *Repository) GetUser(ctx context.Context, id core.ID) (core.User, error) {
	return getOne(ctx, r.db, usersTable, userColumns, id, scanUser)
}

func (r *Repository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (name, email, phone, gender, password, status) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.Phone, u.Gender, u.Password, nullBool(u.Status))
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("insert user id: %w", err)
	}
	u.ID = formatID(id)
	return u, nil
}

func (r *Repository) UpdateUser(ctx context.Context, u core.User) (core.User, error) {
	err := r.execOne(ctx, "update user", u.ID,
		`UPDATE users SET name = ?, email = ?, phone = ?, gender = ?, password = ?, status = ? WHERE id = ?`,
		u.Name, u.Email, u.Phone, u.Gender, u.Password, nullBool(u.Status))
	if err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *Repository) SetUserStatus(ctx context.Context, id core.ID, active bool) (core.User, error) {
	if err := r.execOne(ctx, "set user status", id, `UPDATE users SET status = ? WHERE id = ?`, active); err != nil {
		return core.User{}, err
	}
	return r.GetUser(ctx, id)
}

func (r *Repository) SetUserPassword(ctx context.Context, id core.ID, password string) error {
	return r.execOne(ctx, "set user password", id, `UPDATE users SET password = ? WHERE id = ?`, password)
}

// Categories

const categoryColumns = "id, name, image, active"

func scanCategory(sc interface{ Scan(...any) error }) (core.Category, error) {
	var (
		c      core.Category
		id     int64
		active sql.NullBool
	)
	if err := sc.Scan(&id, &c.Name, &c.Image, &active); err != nil {
		return core.Category{}, err
	}
	c.ID = formatID(id)
	if active.Valid {
		c.Active = core.Bool(active.Bool)
	}
	return c, nil
}

func (r *Repository) ListCategories(ctx context.Context, q store.Query) (store.Page[core.Category], error) {
	return page(ctx, r.db, categoriesTable, categoryColumns, q, scanCategory)
}

func (r *Repository) GetCategory(ctx context.Context, id core.ID) (core.Category, error) {
	return getOne(ctx, r.db, categoriesTable, categoryColumns, id, scanCategory)
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name, image, active) VALUES (?, ?, ?)`,
		c.Name, c.Image, nullBool(c.Active))
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category id: %w", err)
	}
	c.ID = formatID(id)
	return c, nil
}

func (r *Repository) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	err := r.execOne(ctx, "update category", c.ID,
		`UPDATE categories SET name = ?, image = ?, active = ? WHERE id = ?`,
		c.Name, c.Image, nullBool(c.Active))
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (r *Repository) SetCategoryActive(ctx context.Context, id core.ID, active bool) (core.Category, error) {
	if err := r.execOne(ctx, "set category active", id, `UPDATE categories SET active = ? WHERE id = ?`, active); err != nil {
		return core.Category{}, err
	}
	return r.GetCategory(ctx, id)
}

// Monthly documents

const monthlyColumns = "id, user_id, month, amount, categories, updated_at"

func scanMonthly(sc interface{ Scan(...any) error }) (core.MonthlyDocument, error) {
	var (
		d    core.MonthlyDocument
		id   int64
		user string
		cats string
	)
	if err := sc.Scan(&id, &user, &d.Month, &d.Amount, &cats, &d.UpdatedAt); err != nil {
		return core.MonthlyDocument{}, err
	}
	d.ID = formatID(id)
	d.UserID = core.ID(user)
	if err := json.Unmarshal([]byte(cats), &d.Categories); err != nil {
		return core.MonthlyDocument{}, fmt.Errorf("decode categories of document %d: %w", id, err)
	}
	if d.Categories == nil {
		d.Categories = []core.CategoryEntry{}
	}
	return d, nil
}

func (r *Repository) ListMonthly(ctx context.Context, q store.Query) (store.Page[core.MonthlyDocument], error) {
	return page(ctx, r.db, monthlyTable, monthlyColumns, q, scanMonthly)
}

func (r *Repository) GetMonthly(ctx context.Context, id core.ID) (core.MonthlyDocument, error) {
	return getOne(ctx, r.db, monthlyTable, monthlyColumns, id, scanMonthly)
}

func (r *Repository) CreateMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	cats, err := encodeEntries(d.Categories)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO monthly_documents (user_id, month, amount, categories, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(d.UserID), d.Month, d.Amount, cats, d.UpdatedAt)
	if err != nil {
		return core.MonthlyDocument{}, fmt.Errorf("insert monthly document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.MonthlyDocument{}, fmt.Errorf("insert monthly document id: %w", err)
	}
	d.ID = formatID(id)
	if d.Categories == nil {
		d.Categories = []core.CategoryEntry{}
	}
	return d, nil
}

func (r *Repository) ReplaceMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	cats, err := encodeEntries(d.Categories)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	err = r.execOne(ctx, "replace monthly document", d.ID,
		`UPDATE monthly_documents SET user_id = ?, month = ?, amount = ?, categories = ?, updated_at = ? WHERE id = ?`,
		string(d.UserID), d.Month, d.Amount, cats, d.UpdatedAt)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	return d, nil
}

func (r *Repository) SetMonthlyAmount(ctx context.Context, id core.ID, amount int64, updatedAt string) (core.MonthlyDocument, error) {
	err := r.execOne(ctx, "set monthly amount", id,
		`UPDATE monthly_documents SET amount = ?, updated_at = ? WHERE id = ?`, amount, updatedAt)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	return r.GetMonthly(ctx, id)
}

// Transactions

const transactionColumns = "id, user_id, category, amount, note, month, type"

func scanTransaction(sc interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t    core.Transaction
		id   int64
		user string
		typ  string
	)
	if err := sc.Scan(&id, &user, &t.Category, &t.Amount, &t.Note, &t.Month, &typ); err != nil {
		return core.Transaction{}, err
	}
	t.ID = formatID(id)
	t.UserID = core.ID(user)
	t.Type = core.TransactionType(typ)
	return t, nil
}

func (r *Repository) ListTransactions(ctx context.Context, q store.Query) (store.Page[core.Transaction], error) {
	return page(ctx, r.db, transactionsTable, transactionColumns, q, scanTransaction)
}

func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t = t.Normalize()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, category, amount, note, month, type) VALUES (?, ?, ?, ?, ?, ?)`,
		string(t.UserID), t.Category, t.Amount, t.Note, t.Month, string(t.Type))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction id: %w", err)
	}
	t.ID = formatID(id)
	return t, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id core.ID) error {
	return r.execOne(ctx, "delete transaction", id, `DELETE FROM transactions WHERE id = ?`)
}

// execOne runs a statement whose last placeholder is the record id and
// reports ErrNotFound when no row was touched.
func (r *Repository) execOne(ctx context.Context, op string, id core.ID, query string, args ...any) error {
	n, ok := parseID(id)
	if !ok {
		return store.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, query, append(args, n)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func getOne[T any](ctx context.Context, db *sql.DB, t table, cols string, id core.ID, scan func(interface{ Scan(...any) error }) (T, error)) (T, error) {
	var zero T
	n, ok := parseID(id)
	if !ok {
		return zero, store.ErrNotFound
	}
	row := db.QueryRowContext(ctx, "SELECT "+cols+" FROM "+t.name+" WHERE id = ?", n)
	out, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, store.ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("get %s %s: %w", t.name, id, err)
	}
	return out, nil
}

func page[T any](ctx context.Context, db *sql.DB, t table, cols string, q store.Query, scan func(interface{ Scan(...any) error }) (T, error)) (store.Page[T], error) {
	where, args, err := t.where(q)
	if err != nil {
		return store.Page[T]{}, err
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name+where, args...).Scan(&total); err != nil {
		return store.Page[T]{}, fmt.Errorf("count %s: %w", t.name, err)
	}

	stmt := "SELECT " + cols + " FROM " + t.name + where
	if q.Sort != "" {
		col, ok := t.columns[q.Sort]
		if !ok {
			return store.Page[T]{}, fmt.Errorf("list %s: cannot sort by %q", t.name, q.Sort)
		}
		dir := "ASC"
		if strings.EqualFold(q.Order, store.Desc) {
			dir = "DESC"
		}
		stmt += " ORDER BY " + col + " " + dir + ", id ASC"
	} else {
		stmt += " ORDER BY id ASC"
	}
	if q.Paged() {
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset())
	}

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return store.Page[T]{}, fmt.Errorf("list %s: %w", t.name, err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		it, err := scan(rows)
		if err != nil {
			return store.Page[T]{}, fmt.Errorf("scan %s: %w", t.name, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return store.Page[T]{}, fmt.Errorf("list %s: %w", t.name, err)
	}
	return store.Page[T]{Items: items, Total: total}, nil
}

// where builds the WHERE clause. Field names come from a fixed column map,
// values are always bound.
func (t table) where(q store.Query) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	for field, val := range q.Filters {
		col, ok := t.columns[field]
		if !ok {
			return "", nil, fmt.Errorf("list %s: unknown filter %q", t.name, field)
		}
		conds = append(conds, col+" = ?")
		args = append(args, filterValue(field, val))
	}
	for field, val := range q.Like {
		col, ok := t.columns[field]
		if !ok {
			return "", nil, fmt.Errorf("list %s: unknown filter %q", t.name, field)
		}
		conds = append(conds, "LOWER("+col+") LIKE ?")
		args = append(args, "%"+strings.ToLower(val)+"%")
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		var or []string
		for _, field := range t.text {
			or = append(or, "LOWER("+t.columns[field]+") LIKE ?")
			args = append(args, "%"+strings.ToLower(s)+"%")
		}
		conds = append(conds, "("+strings.Join(or, " OR ")+")")
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// filterValue converts boolean filters to the 0/1 stored by SQLite.
func filterValue(field, val string) any {
	switch field {
	case "status", "active":
		if b, err := strconv.ParseBool(val); err == nil {
			if b {
				return 1
			}
			return 0
		}
	}
	return val
}

func encodeEntries(entries []core.CategoryEntry) (string, error) {
	if entries == nil {
		entries = []core.CategoryEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode categories: %w", err)
	}
	return string(b), nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func parseID(id core.ID) (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func formatID(n int64) core.ID {
	return core.ID(strconv.FormatInt(n, 10))
}
