package library

import "time"

// Book represents catalog metadata and current availability of a book.
// Available is false exactly while the book has an open borrow record.
type Book struct {
	ID        int64   `db:"id" json:"id"`
	Title     string  `db:"title" json:"title"`
	Author    string  `db:"author" json:"author"`
	Genre     *string `db:"genre" json:"genre"`
	Available bool    `db:"available" json:"available"`
}

// GenreOrEmpty returns the genre, or "" when none was recorded.
func (b *Book) GenreOrEmpty() string {
	if b.Genre == nil {
		return ""
	}
	return *b.Genre
}

// Member represents a registered library member.
type Member struct {
	ID       int64     `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	JoinedAt time.Time `db:"join_date" json:"join_date"`
}

// BorrowRecord is one row of the borrow history. ReturnedAt is nil while the
// book is still on loan.
type BorrowRecord struct {
	ID         int64      `db:"id" json:"id"`
	MemberID   int64      `db:"member_id" json:"member_id"`
	BookID     int64      `db:"book_id" json:"book_id"`
	BorrowedAt time.Time  `db:"borrow_date" json:"borrow_date"`
	ReturnedAt *time.Time `db:"return_date" json:"return_date"`
}

// Open reports whether the record has not been returned yet.
func (r *BorrowRecord) Open() bool { return r.ReturnedAt == nil }

// BookFilter selects which books ListBooks returns.
type BookFilter int

const (
	AllBooks BookFilter = iota
	AvailableOnly
	BorrowedOnly
)

func (f BookFilter) String() string {
	switch f {
	case AvailableOnly:
		return "available"
	case BorrowedOnly:
		return "borrowed"
	default:
		return "all"
	}
}

// ParseBookFilter maps the CLI spelling of a filter to a BookFilter.
func ParseBookFilter(s string) (BookFilter, error) {
	switch s {
	case "", "all":
		return AllBooks, nil
	case "available", "1":
		return AvailableOnly, nil
	case "borrowed", "0":
		return BorrowedOnly, nil
	}
	return AllBooks, &ValidationError{Field: "filter", Reason: "must be one of all, available, borrowed"}
}

// SnapshotRecord is the exported shape of a book. Field order and names are
// consumed by other tools and must not change.
type SnapshotRecord struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Genre     *string `json:"genre"`
	Available bool    `json:"available"`
}
