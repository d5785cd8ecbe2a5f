package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/model-satellite/flightcore/internal/blackbox"
	"github.com/model-satellite/flightcore/internal/storage"
)

// flightdump lists archived flight sessions and exports a session's
// records to CSV in the blackbox column layout.
func main() {
	var (
		dbPath    string
		sessionID int64
		outPath   string
	)
	flag.StringVar(&dbPath, "db", "", "Path to the flight archive database")
	flag.Int64Var(&sessionID, "session", 0, "Session to export (omit to list sessions)")
	flag.StringVar(&outPath, "o", "", "Output CSV path (defaults to stdout)")
	flag.Parse()

	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "no archive database provided")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(dbPath, sessionID, outPath); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(dbPath string, sessionID int64, outPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	store := storage.NewSqliteStore(dbPath)
	defer store.Close()

	ctx := context.Background()
	if sessionID == 0 {
		return listSessions(ctx, store, dbPath)
	}
	return exportSession(ctx, store, sessionID, outPath)
}

func listSessions(ctx context.Context, store storage.Store, dbPath string) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("%s (%s)\n\n", dbPath, humanize.Bytes(uint64(info.Size())))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTART\tVEHICLE\tRECORDS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			s.ID,
			s.StartTime.Format("2006-01-02 15:04:05"),
			s.VehicleID,
			humanize.Comma(s.Records))
	}
	return w.Flush()
}

func exportSession(ctx context.Context, store storage.Store, sessionID int64, outPath string) error {
	reader, err := store.Records(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reading session %d: %w", sessionID, err)
	}
	defer reader.Close()

	var out io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write(blackbox.Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	var n int
	for reader.Next() {
		if err := w.Write(blackbox.Row(reader.Record())); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		n++
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("reading records: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}

	if outPath != "" {
		fmt.Printf("exported %s records to %s\n", humanize.Comma(int64(n)), outPath)
	}
	return nil
}
