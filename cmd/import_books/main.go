package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"library-catalog/library"
)

// import_books loads the books of a snapshot document (as written by
// "library export") into a catalog database.
//
//	import_books <snapshot.json> [library.db]
func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "usage: import_books <snapshot.json> [library.db]")
		os.Exit(2)
	}
	dbPath := "library.db"
	if len(os.Args) == 3 {
		dbPath = os.Args[2]
	}
	if err := run(context.Background(), os.Args[1], dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, snapshotPath, dbPath string) error {
	manager, err := library.NewLibraryManager(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	f, err := os.Open(filepath.Clean(snapshotPath))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	fmt.Printf("Importing books from %s into %s...\n", snapshotPath, dbPath)
	n, err := manager.ImportSnapshot(ctx, f)
	fmt.Printf("Successfully imported: %d books\n", n)
	if err != nil {
		return fmt.Errorf("import stopped: %w", err)
	}

	books, err := manager.ListBooks(ctx, library.AllBooks)
	if err != nil {
		return fmt.Errorf("list books: %w", err)
	}
	fmt.Printf("\nCatalog now holds %d books:\n", len(books))
	fmt.Printf("%-5s %-50s %-30s\n", "ID", "Title", "Author")
	fmt.Println(strings.Repeat("-", 87))
	for _, book := range books {
		fmt.Printf("%-5d %-50s %-30s\n", book.ID, truncateString(book.Title, 50), truncateString(book.Author, 30))
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
