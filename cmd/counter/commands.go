package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/people.counter/internal/db"
	"github.com/banshee-data/people.counter/internal/fsutil"
	"github.com/banshee-data/people.counter/internal/report"
	"github.com/banshee-data/people.counter/internal/security"
	"github.com/banshee-data/people.counter/internal/version"
)

// handleReport renders the plots for one stored session.
func handleReport(args []string) {
	if err := runReport(args, *dbPath, os.Stdout); err != nil {
		log.Fatalf("report: %v", err)
	}
}

func runReport(args []string, dbPath string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(out)
	sessionID := fs.String("session", "", "Session ID to render (default: most recent)")
	outDir := fs.String("out", ".", "Directory for the PNG files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := security.ValidateOutputDir(*outDir); err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	id := *sessionID
	if id == "" {
		if id, err = database.LatestSessionID(); err != nil {
			return err
		}
	}

	if _, err := database.GetSession(id); err != nil {
		return err
	}

	summary, err := database.DurationSummary(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s: %d visits, mean %.1fs, p50 %.1fs, p85 %.1fs, max %.1fs\n",
		id, summary.Count, summary.Mean, summary.P50, summary.P85, summary.Max)

	files, err := report.NewWriter(fsutil.OSFileSystem{}).WriteSession(database, id, *outDir)
	for _, f := range files {
		fmt.Fprintf(out, "wrote %s\n", f)
	}
	return err
}

func handleVersion() {
	fmt.Println(version.String())
}
