package library

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenFixture(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func readSnapshot(t *testing.T, path string) []SnapshotRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := DecodeSnapshot(bytes.NewReader(data))
	require.NoError(t, err)
	return records
}

func TestExport_Document(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	dune, _ := db.AddBook(ctx, "Dune", "Herbert", "SciFi")
	_, _ = db.AddBook(ctx, "Emma", "Austen", "")
	memberID, _ := db.AddMember(ctx, "Alice")
	_, err := db.BorrowBook(ctx, memberID, dune)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "books.json")
	res, err := NewExporter(db).Export(ctx, FileSink{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Books)
	assert.Equal(t, path, res.Sink)
	assert.Len(t, res.Digest, 64)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	goldenFixture(t).Assert(t, "two_books", data)
}

func TestExport_EmptyCatalog(t *testing.T) {
	db := tempDB(t)

	path := filepath.Join(t.TempDir(), "books.json")
	res, err := NewExporter(db).Export(context.Background(), FileSink{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Books)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	goldenFixture(t).Assert(t, "empty", data)
}

func TestExport_ReplacesPreviousDocument(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	dir := t.TempDir()
	sink := FileSink{Path: filepath.Join(dir, "snap.json")}
	exporter := NewExporter(db)

	for _, title := range []string{"A", "B", "C"} {
		_, err := db.AddBook(ctx, title, "Author", "")
		require.NoError(t, err)
	}
	first, err := exporter.Export(ctx, sink)
	require.NoError(t, err)
	require.Len(t, readSnapshot(t, sink.Path), 3)

	_, err = db.AddBook(ctx, "D", "Author", "")
	require.NoError(t, err)
	second, err := exporter.Export(ctx, sink)
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest, second.Digest)

	records := readSnapshot(t, sink.Path)
	require.Len(t, records, 4)
	assert.Equal(t, "D", records[3].Title)

	// Only the snapshot itself is left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snap.json", entries[0].Name())
}

func TestExport_CountMatchesCatalog(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := db.AddBook(ctx, "Book", "Author", "")
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "books.json")
	res, err := NewExporter(db).Export(ctx, FileSink{Path: path})
	require.NoError(t, err)

	books, err := db.ListBooks(ctx, AllBooks)
	require.NoError(t, err)
	assert.Equal(t, len(books), res.Books)
	assert.Len(t, readSnapshot(t, path), len(books))
}

func TestExport_SinkFailure(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	_, _ = db.AddBook(ctx, "Dune", "Herbert", "")

	sink := FileSink{Path: filepath.Join(t.TempDir(), "missing", "books.json")}
	_, err := NewExporter(db).Export(ctx, sink)
	require.ErrorIs(t, err, ErrSinkWrite)

	books, err := db.ListBooks(ctx, AllBooks)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestExport_StorageFailure(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "gone.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewExporter(db).Export(context.Background(), FileSink{Path: filepath.Join(t.TempDir(), "x.json")})
	require.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrSinkWrite)
}

// TestExport_DuringCirculation exports while another goroutine borrows and
// returns; every document must be complete and agree with its own counts.
func TestExport_DuringCirculation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	var books []int64
	for _, title := range []string{"A", "B", "C"} {
		id, err := db.AddBook(ctx, title, "Author", "")
		require.NoError(t, err)
		books = append(books, id)
	}
	memberID, _ := db.AddMember(ctx, "Alice")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 30; i++ {
			b := books[i%len(books)]
			if _, err := db.BorrowBook(ctx, memberID, b); err != nil {
				t.Errorf("borrow: %v", err)
				return
			}
			if err := db.ReturnBook(ctx, b); err != nil {
				t.Errorf("return: %v", err)
				return
			}
		}
	}()

	exporter := NewExporter(db)
	path := filepath.Join(t.TempDir(), "books.json")
	for i := 0; i < 15; i++ {
		_, err := exporter.Export(ctx, FileSink{Path: path})
		require.NoError(t, err)

		records := readSnapshot(t, path)
		require.Len(t, records, 3)
		borrowed := 0
		for _, r := range records {
			if !r.Available {
				borrowed++
			}
		}
		assert.LessOrEqual(t, borrowed, 1)
	}
	wg.Wait()
	assertAvailabilityMatchesHistory(t, db)
}
