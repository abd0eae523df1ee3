package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"library-catalog/config"
	"library-catalog/library"
)

// prompter reads answers line by line. Prompts and the menu are only printed
// when input comes from a terminal, so scripted sessions stay quiet.
type prompter struct {
	ctx         context.Context
	lines       <-chan string
	out         io.Writer
	interactive bool
}

// newPrompter starts the goroutine feeding lines from in. It exits at end of
// input, or at the next line read after ctx is done; a read already blocked
// on in (an idle terminal) is only released when in delivers data or closes,
// which for os.Stdin happens at process exit.
func newPrompter(ctx context.Context, in io.Reader, out io.Writer) *prompter {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &prompter{ctx: ctx, lines: lines, out: out, interactive: interactive}
}

// ask prints label and waits for the next line. ok is false once input ends
// or the context is cancelled.
func (p *prompter) ask(label string) (answer string, ok bool) {
	if p.interactive {
		fmt.Fprint(p.out, label)
	}
	select {
	case <-p.ctx.Done():
		return "", false
	case line, open := <-p.lines:
		return strings.TrimSpace(line), open
	}
}

func (p *prompter) askID(label, field string) (int64, bool) {
	s, ok := p.ask(label)
	if !ok {
		return 0, false
	}
	id, err := parseID(field, s)
	if err != nil {
		fmt.Fprintf(p.out, "Error: %v\n", err)
		return 0, false
	}
	return id, true
}

const menu = `
=== Library Management ===
1. Add Book
2. Add Member
3. Borrow Book
4. Return Book
5. List Books
6. List Members
7. Export Books to File
8. Exit
9. Borrow History
10. Books On Loan`

// runShell serves the interactive menu until exit, end of input or
// cancellation. The autosaver is stopped and awaited before the database is
// closed.
func runShell(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	manager, err := library.NewLibraryManager(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	saver := library.NewAutoSaver(manager.Exporter(), library.FileSink{Path: cfg.AutoSaveFile}, cfg.AutoSaveInterval, slog.Default())

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		saver.Shutdown()
		cancel()
		if closeErr := manager.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
		fmt.Fprintln(out, "Goodbye!")
	}()

	if err := saver.Start(ctx); err != nil {
		return err
	}

	sh := &shell{p: newPrompter(ctx, in, out), mgr: manager, out: out, cfg: cfg}
	sh.loop(ctx)
	return nil
}

type shell struct {
	p   *prompter
	mgr *library.LibraryManager
	out io.Writer
	cfg config.Config
}

func (s *shell) loop(ctx context.Context) {
	for {
		if s.p.interactive {
			fmt.Fprintln(s.out, menu)
		}
		choice, ok := s.p.ask("Enter your choice: ")
		if !ok {
			return
		}

		switch strings.ToLower(choice) {
		case "1", "add book":
			s.handleAddBook(ctx)
		case "2", "add member":
			s.handleAddMember(ctx)
		case "3", "borrow":
			s.handleBorrow(ctx)
		case "4", "return":
			s.handleReturn(ctx)
		case "5", "list books":
			s.handleListBooks(ctx)
		case "6", "list members":
			s.handleListMembers(ctx)
		case "7", "export":
			s.handleExport(ctx)
		case "8", "exit":
			return
		case "9", "history":
			s.handleHistory(ctx)
		case "10", "on loan":
			s.handleOnLoan(ctx)
		case "":
			continue
		default:
			fmt.Fprintln(s.out, "Invalid choice. Please try again.")
		}
	}
}

func (s *shell) fail(err error) {
	fmt.Fprintf(s.out, "Error: %v\n", err)
}

func (s *shell) handleAddBook(ctx context.Context) {
	title, ok := s.p.ask("Enter book title: ")
	if !ok {
		return
	}
	author, ok := s.p.ask("Enter book author: ")
	if !ok {
		return
	}
	genre, ok := s.p.ask("Enter book genre: ")
	if !ok {
		return
	}

	id, err := s.mgr.AddBook(ctx, title, author, genre)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Book '%s' by %s added with ID %d.\n", title, author, id)
}

func (s *shell) handleAddMember(ctx context.Context) {
	name, ok := s.p.ask("Enter member name: ")
	if !ok {
		return
	}
	id, err := s.mgr.AddMember(ctx, name)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Member '%s' added with ID %d.\n", name, id)
}

func (s *shell) handleBorrow(ctx context.Context) {
	memberID, ok := s.p.askID("Enter member ID: ", "member_id")
	if !ok {
		return
	}
	bookID, ok := s.p.askID("Enter book ID: ", "book_id")
	if !ok {
		return
	}
	if _, err := s.mgr.BorrowBook(ctx, memberID, bookID); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Book ID %d borrowed by Member ID %d.\n", bookID, memberID)
}

func (s *shell) handleReturn(ctx context.Context) {
	bookID, ok := s.p.askID("Enter book ID to return: ", "book_id")
	if !ok {
		return
	}
	if err := s.mgr.ReturnBook(ctx, bookID); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "Book ID %d returned successfully.\n", bookID)
}

func (s *shell) handleListBooks(ctx context.Context) {
	answer, ok := s.p.ask("List (1) Available, (0) Borrowed, or (Enter) All books? ")
	if !ok {
		return
	}
	filter, err := library.ParseBookFilter(answer)
	if err != nil {
		s.fail(err)
		return
	}
	books, err := s.mgr.ListBooks(ctx, filter)
	if err != nil {
		s.fail(err)
		return
	}
	printBooks(s.out, books)
}

func (s *shell) handleListMembers(ctx context.Context) {
	members, err := s.mgr.ListMembers(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	printMembers(s.out, members)
}

func (s *shell) handleExport(ctx context.Context) {
	path, ok := s.p.ask(fmt.Sprintf("Enter filename (default: %s): ", s.cfg.ExportFile))
	if !ok {
		return
	}
	if path == "" {
		path = s.cfg.ExportFile
	}
	res, err := s.mgr.Export(ctx, path)
	if err != nil {
		s.fail(err)
		return
	}
	printExport(s.out, res)
}

func (s *shell) handleHistory(ctx context.Context) {
	bookID, ok := s.p.askID("Enter book ID: ", "book_id")
	if !ok {
		return
	}
	records, err := s.mgr.BorrowHistory(ctx, bookID)
	if err != nil {
		s.fail(err)
		return
	}
	printHistory(s.out, records)
}

func (s *shell) handleOnLoan(ctx context.Context) {
	records, err := s.mgr.OpenBorrows(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	printLoans(s.out, records)
}
