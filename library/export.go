package library

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/blake2b"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BookLister is the read side of the catalog the exporter depends on.
type BookLister interface {
	ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error)
}

// Sink accepts a fully formed snapshot document. Each write replaces
// whatever the sink held before.
type Sink interface {
	Name() string
	WriteSnapshot(data []byte) error
}

// FileSink writes snapshots to a file. The document is written to a temporary
// file next to Path and renamed over it, so readers only ever see a complete
// document.
type FileSink struct {
	Path string
}

func (s FileSink) Name() string { return s.Path }

func (s FileSink) WriteSnapshot(data []byte) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path)
}

// ExportResult describes a written snapshot.
type ExportResult struct {
	Sink   string
	Books  int
	Digest string // BLAKE2b-256 of the document, hex
}

// Exporter serializes the book list to a sink.
type Exporter struct {
	books BookLister
}

func NewExporter(books BookLister) *Exporter {
	return &Exporter{books: books}
}

// Export reads all books in one consistent read and writes them to sink.
// Storage failures are returned as is; sink failures match ErrSinkWrite.
func (e *Exporter) Export(ctx context.Context, sink Sink) (*ExportResult, error) {
	books, err := e.books.ListBooks(ctx, AllBooks)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	data, err := EncodeSnapshot(books)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := sink.WriteSnapshot(data); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", sink.Name(), ErrSinkWrite, err)
	}

	sum := blake2b.Sum256(data)
	return &ExportResult{
		Sink:   sink.Name(),
		Books:  len(books),
		Digest: hex.EncodeToString(sum[:]),
	}, nil
}

// EncodeSnapshot renders books as the snapshot document: a JSON array of
// SnapshotRecord, indented by four spaces, with a trailing newline.
func EncodeSnapshot(books []*Book) ([]byte, error) {
	records := make([]SnapshotRecord, 0, len(books))
	for _, b := range books {
		records = append(records, SnapshotRecord{
			ID:        b.ID,
			Title:     b.Title,
			Author:    b.Author,
			Genre:     b.Genre,
			Available: b.Available,
		})
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeSnapshot parses a snapshot document.
func DecodeSnapshot(r io.Reader) ([]SnapshotRecord, error) {
	var records []SnapshotRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return records, nil
}
