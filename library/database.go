package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Database owns the SQLite connection behind the catalog. Every call, reads
// included, is serialized through mu, so the interactive loop and the
// autosaver never use the connection at the same time.
type Database struct {
	mu     sync.Mutex
	db     *sqlx.DB
	closed bool

	addBookStmt   *sqlx.Stmt
	addMemberStmt *sqlx.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies the
// schema and prepares common statements. Existing data is kept.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}

	// One shared connection; the mutex above decides who gets it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("connect sqlite", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		database.closeStatements()
		db.Close()
		return nil, storageErr("prepare statements", err)
	}
	return database, nil
}

// Close releases prepared statements and closes the DB. Calling it again is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.closeStatements()
	return d.db.Close()
}

func (d *Database) closeStatements() {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addMemberStmt != nil {
		d.addMemberStmt.Close()
	}
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL keeps readers of the file (backups, sqlite3 shell) off our lock.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	err := db.Get(&current, `SELECT value FROM meta WHERE key='schema_version';`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            genre TEXT,
            available BOOLEAN NOT NULL DEFAULT 1
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            join_date DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_id INTEGER NOT NULL REFERENCES members(id),
            book_id INTEGER NOT NULL REFERENCES books(id),
            borrow_date DATETIME NOT NULL,
            return_date DATETIME
        );`,
		// At most one open record per book.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrow_history_open
            ON borrow_history(book_id) WHERE return_date IS NULL;`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Preparex(`INSERT INTO books(title,author,genre) VALUES(?,?,?)`); err != nil {
		return err
	}
	if d.addMemberStmt, err = d.db.Preparex(`INSERT INTO members(name,join_date) VALUES(?,?)`); err != nil {
		return err
	}
	return nil
}

// lock acquires the connection lock. The caller must unlock when err is nil.
func (d *Database) lock() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// ---------------------------------------------------------------------------
// Books and members
// ---------------------------------------------------------------------------

// AddBook inserts an available book. Title and author must be non-empty after
// trimming; an empty genre is stored as NULL.
func (d *Database) AddBook(ctx context.Context, title, author, genre string) (int64, error) {
	title, author, genre = strings.TrimSpace(title), strings.TrimSpace(author), strings.TrimSpace(genre)
	if title == "" {
		return 0, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if author == "" {
		return 0, &ValidationError{Field: "author", Reason: "must not be empty"}
	}
	var genreArg any
	if genre != "" {
		genreArg = genre
	}

	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	res, err := d.addBookStmt.ExecContext(ctx, title, author, genreArg)
	if err != nil {
		return 0, storageErr("add book", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("add book", err)
	}
	return id, nil
}

// AddMember registers a member joining now.
func (d *Database) AddMember(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	res, err := d.addMemberStmt.ExecContext(ctx, name, time.Now().UTC())
	if err != nil {
		return 0, storageErr("add member", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("add member", err)
	}
	return id, nil
}

func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	var b Book
	err := d.db.GetContext(ctx, &b, `SELECT id,title,author,genre,available FROM books WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("book", id)
	}
	if err != nil {
		return nil, storageErr("get book", err)
	}
	return &b, nil
}

func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	var m Member
	err := d.db.GetContext(ctx, &m, `SELECT id,name,join_date FROM members WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("member", id)
	}
	if err != nil {
		return nil, storageErr("get member", err)
	}
	return &m, nil
}

// ListBooks returns the books matching filter in insertion order. The result
// is read in a single query under the lock, so it never reflects half of a
// borrow or return.
func (d *Database) ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error) {
	ds := goqu.Dialect("sqlite3").
		From("books").
		Select("id", "title", "author", "genre", "available").
		Order(goqu.I("id").Asc())
	switch filter {
	case AvailableOnly:
		ds = ds.Where(goqu.C("available").IsTrue())
	case BorrowedOnly:
		ds = ds.Where(goqu.C("available").IsFalse())
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	books := []*Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, storageErr("list books", err)
	}
	return books, nil
}

// ListMembers returns all members in insertion order.
func (d *Database) ListMembers(ctx context.Context) ([]*Member, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	members := []*Member{}
	if err := d.db.SelectContext(ctx, &members, `SELECT id,name,join_date FROM members ORDER BY id`); err != nil {
		return nil, storageErr("list members", err)
	}
	return members, nil
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

// BorrowBook records a loan and marks the book unavailable in one transaction.
func (d *Database) BorrowBook(ctx context.Context, memberID, bookID int64) (int64, error) {
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storageErr("borrow book", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM members WHERE id=?)`, memberID); err != nil {
		return 0, storageErr("borrow book", err)
	}
	if !exists {
		return 0, notFound("member", memberID)
	}

	var avail bool
	err = tx.GetContext(ctx, &avail, `SELECT available FROM books WHERE id=?`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("book", bookID)
	}
	if err != nil {
		return 0, storageErr("borrow book", err)
	}
	if !avail {
		return 0, fmt.Errorf("book %d: %w", bookID, ErrAlreadyBorrowed)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO borrow_history(member_id,book_id,borrow_date) VALUES(?,?,?)`,
		memberID, bookID, time.Now().UTC())
	if err != nil {
		return 0, storageErr("borrow book", err)
	}
	recordID, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("borrow book", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE books SET available=0 WHERE id=?`, bookID); err != nil {
		return 0, storageErr("borrow book", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("borrow book", err)
	}
	return recordID, nil
}

// ReturnBook closes the most recent open borrow record of the book and makes
// it available again, in one transaction.
func (d *Database) ReturnBook(ctx context.Context, bookID int64) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("return book", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID); err != nil {
		return storageErr("return book", err)
	}
	if !exists {
		return notFound("book", bookID)
	}

	var recordID int64
	err = tx.GetContext(ctx, &recordID,
		`SELECT id FROM borrow_history WHERE book_id=? AND return_date IS NULL ORDER BY id DESC LIMIT 1`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("book %d: %w", bookID, ErrNotBorrowed)
	}
	if err != nil {
		return storageErr("return book", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE borrow_history SET return_date=? WHERE id=?`, time.Now().UTC(), recordID); err != nil {
		return storageErr("return book", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE books SET available=1 WHERE id=?`, bookID); err != nil {
		return storageErr("return book", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("return book", err)
	}
	return nil
}

// BorrowHistory returns every borrow record of a book, oldest first.
func (d *Database) BorrowHistory(ctx context.Context, bookID int64) ([]*BorrowRecord, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	records := []*BorrowRecord{}
	err := d.db.SelectContext(ctx, &records,
		`SELECT id,member_id,book_id,borrow_date,return_date FROM borrow_history WHERE book_id=? ORDER BY id`, bookID)
	if err != nil {
		return nil, storageErr("borrow history", err)
	}
	return records, nil
}

// OpenBorrows returns all records whose book has not come back yet.
func (d *Database) OpenBorrows(ctx context.Context) ([]*BorrowRecord, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	records := []*BorrowRecord{}
	err := d.db.SelectContext(ctx, &records,
		`SELECT id,member_id,book_id,borrow_date,return_date FROM borrow_history WHERE return_date IS NULL ORDER BY id`)
	if err != nil {
		return nil, storageErr("open borrows", err)
	}
	return records, nil
}
