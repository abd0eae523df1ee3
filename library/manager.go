package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// DefaultExportFile is where manual exports go when no file is named.
const DefaultExportFile = "books.json"

// LibraryManager is a thin façade over the Database that validates user input
// before it reaches storage. It keeps no state of its own.
type LibraryManager struct {
	db       *Database
	exporter *Exporter
	validate *validator.Validate
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return newLibraryManager(db), nil
}

func newLibraryManager(db *Database) *LibraryManager {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &LibraryManager{db: db, exporter: NewExporter(db), validate: v}
}

// Close closes the underlying database. Stop any AutoSaver using Exporter first.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Exporter returns the exporter reading through this manager's database.
func (lm *LibraryManager) Exporter() *Exporter { return lm.exporter }

type bookInput struct {
	Title  string `json:"title" validate:"required"`
	Author string `json:"author" validate:"required"`
	Genre  string `json:"genre"`
}

type memberInput struct {
	Name string `json:"name" validate:"required"`
}

type borrowInput struct {
	MemberID int64 `json:"member_id" validate:"gt=0"`
	BookID   int64 `json:"book_id" validate:"gt=0"`
}

type bookIDInput struct {
	BookID int64 `json:"book_id" validate:"gt=0"`
}

type memberIDInput struct {
	MemberID int64 `json:"member_id" validate:"gt=0"`
}

func (lm *LibraryManager) check(in any) error {
	err := lm.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}
	return err
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "gt":
		return "must be a positive integer"
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

// clean trims and NFC-normalizes free text so visually equal titles are stored equally.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, title, author, genre string) (int64, error) {
	in := bookInput{Title: clean(title), Author: clean(author), Genre: clean(genre)}
	if err := lm.check(in); err != nil {
		return 0, err
	}
	return lm.db.AddBook(ctx, in.Title, in.Author, in.Genre)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	if err := lm.check(bookIDInput{BookID: id}); err != nil {
		return nil, err
	}
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error) {
	return lm.db.ListBooks(ctx, filter)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, name string) (int64, error) {
	in := memberInput{Name: clean(name)}
	if err := lm.check(in); err != nil {
		return 0, err
	}
	return lm.db.AddMember(ctx, in.Name)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	if err := lm.check(memberIDInput{MemberID: id}); err != nil {
		return nil, err
	}
	return lm.db.GetMember(ctx, id)
}

func (lm *LibraryManager) ListMembers(ctx context.Context) ([]*Member, error) {
	return lm.db.ListMembers(ctx)
}

// ------------------ Circulation ------------------

// BorrowBook lends bookID to memberID and returns the new borrow record id.
func (lm *LibraryManager) BorrowBook(ctx context.Context, memberID, bookID int64) (int64, error) {
	if err := lm.check(borrowInput{MemberID: memberID, BookID: bookID}); err != nil {
		return 0, err
	}
	return lm.db.BorrowBook(ctx, memberID, bookID)
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, bookID int64) error {
	if err := lm.check(bookIDInput{BookID: bookID}); err != nil {
		return err
	}
	return lm.db.ReturnBook(ctx, bookID)
}

// BorrowHistory lists the loans of an existing book, oldest first.
func (lm *LibraryManager) BorrowHistory(ctx context.Context, bookID int64) ([]*BorrowRecord, error) {
	if _, err := lm.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return lm.db.BorrowHistory(ctx, bookID)
}

// OpenBorrows lists every loan that has not been returned yet, oldest first.
func (lm *LibraryManager) OpenBorrows(ctx context.Context) ([]*BorrowRecord, error) {
	return lm.db.OpenBorrows(ctx)
}

// ------------------ Snapshots ------------------

// Export writes the catalog to path, DefaultExportFile when path is empty.
func (lm *LibraryManager) Export(ctx context.Context, path string) (*ExportResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultExportFile
	}
	return lm.exporter.Export(ctx, FileSink{Path: path})
}

// ImportSnapshot adds every book of a snapshot document as a new, available
// book. Ids and availability are not carried over. It returns how many books
// were added before the first failure.
func (lm *LibraryManager) ImportSnapshot(ctx context.Context, r io.Reader) (int, error) {
	records, err := DecodeSnapshot(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	for i, rec := range records {
		genre := ""
		if rec.Genre != nil {
			genre = *rec.Genre
		}
		if _, err := lm.AddBook(ctx, rec.Title, rec.Author, genre); err != nil {
			return i, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return len(records), nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	status := "Available"
	if !b.Available {
		status = "Borrowed"
	}
	return fmt.Sprintf("%-5d %-30s %-25s %-15s %-10s",
		b.ID, truncate(b.Title, 30), truncate(b.Author, 25), truncate(b.GenreOrEmpty(), 15), status)
}

// PrettyMember formats a member for lists.
func PrettyMember(m *Member) string {
	return fmt.Sprintf("%-5d %-30s %s", m.ID, truncate(m.Name, 30), m.JoinedAt.Local().Format("2006-01-02 15:04:05"))
}

func truncate(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	return string(r[:maxLength-3]) + "..."
}
