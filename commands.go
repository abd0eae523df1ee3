package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/config"
	"library-catalog/library"
)

// rootOptions holds global flags and the configuration resolved from them.
type rootOptions struct {
	configPath string
	dbPath     string
	verbose    bool

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "library",
		Short: "Library catalog manager",
		Long: `Track books, members and loans in a SQLite catalog.

Without a subcommand an interactive menu is started; the catalog is then
auto-saved to a JSON snapshot in the background until you exit.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), opts.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to the SQLite database (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newAddBookCommand(opts))
	cmd.AddCommand(newAddMemberCommand(opts))
	cmd.AddCommand(newBorrowCommand(opts))
	cmd.AddCommand(newReturnCommand(opts))
	cmd.AddCommand(newListBooksCommand(opts))
	cmd.AddCommand(newListMembersCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newOnLoanCommand(opts))
	cmd.AddCommand(newExportCommand(opts))

	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.dbPath != "" {
		cfg.DatabasePath = o.dbPath
	}
	level, _ := cfg.Level()
	if o.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	o.cfg = cfg
	return nil
}

// withManager opens the catalog for a single command and closes it afterwards.
func withManager(o *rootOptions, fn func(mgr *library.LibraryManager) error) error {
	slog.Debug("opening database", "path", o.cfg.DatabasePath)
	mgr, err := library.NewLibraryManager(o.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	return fn(mgr)
}

func parseID(field, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &library.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not an integer", s)}
	}
	return id, nil
}

func newAddBookCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-book <title> <author> [genre]",
		Short: "Add a book to the catalog",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			genre := ""
			if len(args) == 3 {
				genre = args[2]
			}
			return withManager(opts, func(mgr *library.LibraryManager) error {
				id, err := mgr.AddBook(cmd.Context(), args[0], args[1], genre)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book '%s' by %s added with ID %d.\n", strings.TrimSpace(args[0]), strings.TrimSpace(args[1]), id)
				return nil
			})
		},
	}
}

func newAddMemberCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-member <name>",
		Short: "Register a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(mgr *library.LibraryManager) error {
				id, err := mgr.AddMember(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Member '%s' added with ID %d.\n", strings.TrimSpace(args[0]), id)
				return nil
			})
		},
	}
}

func newBorrowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <member-id> <book-id>",
		Short: "Lend a book to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := parseID("member_id", args[0])
			if err != nil {
				return err
			}
			bookID, err := parseID("book_id", args[1])
			if err != nil {
				return err
			}
			return withManager(opts, func(mgr *library.LibraryManager) error {
				if _, err := mgr.BorrowBook(cmd.Context(), memberID, bookID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book ID %d borrowed by Member ID %d.\n", bookID, memberID)
				return nil
			})
		},
	}
}

func newReturnCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "return <book-id>",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book_id", args[0])
			if err != nil {
				return err
			}
			return withManager(opts, func(mgr *library.LibraryManager) error {
				if err := mgr.ReturnBook(cmd.Context(), bookID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book ID %d returned successfully.\n", bookID)
				return nil
			})
		},
	}
}

func newListBooksCommand(opts *rootOptions) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list-books",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := library.ParseBookFilter(filter)
			if err != nil {
				return err
			}
			return withManager(opts, func(mgr *library.LibraryManager) error {
				books, err := mgr.ListBooks(cmd.Context(), f)
				if err != nil {
					return err
				}
				printBooks(cmd.OutOrStdout(), books)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "which books to list (all|available|borrowed)")
	return cmd
}

func newListMembersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-members",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(mgr *library.LibraryManager) error {
				members, err := mgr.ListMembers(cmd.Context())
				if err != nil {
					return err
				}
				printMembers(cmd.OutOrStdout(), members)
				return nil
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <book-id>",
		Short: "Show the borrow history of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book_id", args[0])
			if err != nil {
				return err
			}
			return withManager(opts, func(mgr *library.LibraryManager) error {
				records, err := mgr.BorrowHistory(cmd.Context(), bookID)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
}

func newOnLoanCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "on-loan",
		Short: "List books that are currently borrowed and by whom",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(mgr *library.LibraryManager) error {
				records, err := mgr.OpenBorrows(cmd.Context())
				if err != nil {
					return err
				}
				printLoans(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all books to a JSON snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.ExportFile
			if len(args) == 1 {
				path = args[0]
			}
			return withManager(opts, func(mgr *library.LibraryManager) error {
				res, err := mgr.Export(cmd.Context(), path)
				if err != nil {
					return err
				}
				printExport(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func printBooks(w io.Writer, books []*library.Book) {
	if len(books) == 0 {
		fmt.Fprintln(w, "No books found.")
		return
	}
	fmt.Fprintf(w, "%-5s %-30s %-25s %-15s %-10s\n", "ID", "Title", "Author", "Genre", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, b := range books {
		fmt.Fprintln(w, library.PrettyBook(b))
	}
}

func printMembers(w io.Writer, members []*library.Member) {
	if len(members) == 0 {
		fmt.Fprintln(w, "No members registered.")
		return
	}
	fmt.Fprintf(w, "%-5s %-30s %s\n", "ID", "Name", "Joined")
	fmt.Fprintln(w, strings.Repeat("-", 56))
	for _, m := range members {
		fmt.Fprintln(w, library.PrettyMember(m))
	}
}

func printHistory(w io.Writer, records []*library.BorrowRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "This book has never been borrowed.")
		return
	}
	const layout = "2006-01-02 15:04:05"
	fmt.Fprintf(w, "%-7s %-7s %-20s %s\n", "Record", "Member", "Borrowed", "Returned")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, r := range records {
		returned := "on loan"
		if r.ReturnedAt != nil {
			returned = r.ReturnedAt.Local().Format(layout)
		}
		fmt.Fprintf(w, "%-7d %-7d %-20s %s\n", r.ID, r.MemberID, r.BorrowedAt.Local().Format(layout), returned)
	}
}

func printLoans(w io.Writer, records []*library.BorrowRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No books are on loan.")
		return
	}
	fmt.Fprintf(w, "%-7s %-7s %-7s %s\n", "Record", "Book", "Member", "Borrowed")
	fmt.Fprintln(w, strings.Repeat("-", 44))
	for _, r := range records {
		fmt.Fprintf(w, "%-7d %-7d %-7d %s\n", r.ID, r.BookID, r.MemberID, r.BorrowedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func printExport(w io.Writer, res *library.ExportResult) {
	fmt.Fprintf(w, "Exported %d books to %s (blake2b %s).\n", res.Books, res.Sink, res.Digest[:16])
}
