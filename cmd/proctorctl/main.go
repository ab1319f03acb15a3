// proctorctl inspects the proctord evidence archive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"proctord/internal/archive"
	"proctord/internal/config"
	"proctord/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to config file")
	dbPath     = flag.String("db", "", "archive database path (overrides config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "list":
		cmdList()
	case "show":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: proctorctl show <session-id>")
			os.Exit(1)
		}
		cmdShow(flag.Arg(1))
	case "violations":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: proctorctl violations <session-id>")
			os.Exit(1)
		}
		cmdViolations(flag.Arg(1))
	case "verify":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: proctorctl verify <session-id>")
			os.Exit(1)
		}
		cmdVerify(flag.Arg(1))
	case "export":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: proctorctl export <session-id> [output.json]")
			os.Exit(1)
		}
		output := ""
		if flag.NArg() >= 3 {
			output = flag.Arg(2)
		}
		cmdExport(flag.Arg(1), output)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `proctorctl - Inspect archived proctoring sessions

Usage: proctorctl [options] <command> [args]

Commands:
  list                     List archived sessions
  show <session-id>        Show one session's summary
  violations <session-id>  Print a session's violation log
  verify <session-id>      Re-hash stored evidence and report mismatches
  export <session-id>      Export a session's metadata as JSON
  help                     Show this help message

Options:
  -config <path>  Path to config file
  -db <path>      Archive database path (overrides config)`)
}

func openArchive() *archive.Store {
	path := *dbPath
	busy := 0
	if path == "" {
		loader := config.NewLoader(*configPath)
		cfg, err := loader.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Storage.Path
		busy = cfg.Storage.BusyTimeoutMs
		if log, err := logging.New(cfg.ToLogging()); err == nil {
			logging.SetDefault(log)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "No archive found at %s\n", path)
		os.Exit(1)
	}

	store, err := archive.Open(path, busy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening archive: %v\n", err)
		os.Exit(1)
	}
	return store
}

func cmdList() {
	store := openArchive()
	defer store.Close()

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No archived sessions.")
		return
	}

	fmt.Printf("%-18s %-20s %-10s %-20s %s\n", "Session", "Started", "Elapsed", "Reason", "Violations")
	fmt.Println(strings.Repeat("-", 80))
	for _, s := range sessions {
		fmt.Printf("%-18s %-20s %-10s %-20s %d\n",
			s.SessionID,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			s.Elapsed.Round(time.Second),
			s.Reason,
			s.Violations)
	}
}

func cmdShow(sessionID string) {
	store := openArchive()
	defer store.Close()

	sum, err := store.GetSession(context.Background(), sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Session:    %s\n", sum.SessionID)
	fmt.Printf("Started:    %s\n", sum.StartedAt.Format(time.RFC3339))
	fmt.Printf("Finalized:  %s\n", sum.Finalized.Format(time.RFC3339))
	fmt.Printf("Elapsed:    %s\n", sum.Elapsed.Round(time.Second))
	fmt.Printf("Reason:     %s\n", sum.Reason)
	fmt.Printf("Violations: %d\n", sum.Violations)
	fmt.Printf("Captures:   %d\n", sum.Captures)
	fmt.Printf("Clips:      %d\n", sum.Clips)
}

func cmdViolations(sessionID string) {
	store := openArchive()
	defer store.Close()

	vs, err := store.Violations(context.Background(), sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(vs) == 0 {
		fmt.Println("No violations recorded.")
		return
	}

	fmt.Printf("%-5s %-22s %-8s %-20s %s\n", "ID", "Kind", "Severity", "Time", "Detail")
	fmt.Println(strings.Repeat("-", 80))
	for _, v := range vs {
		detail := v.Detail
		if v.HasAway {
			detail = fmt.Sprintf("away %dms", v.AwayMS)
		}
		fmt.Printf("%-5d %-22s %-8s %-20s %s\n",
			v.ViolationID, v.Kind, v.Severity,
			v.Timestamp.Format("15:04:05.000"), detail)
	}
}

func cmdVerify(sessionID string) {
	store := openArchive()
	defer store.Close()

	ctx := context.Background()
	if _, err := store.GetSession(ctx, sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bad, err := store.VerifyEvidence(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error verifying evidence: %v\n", err)
		os.Exit(1)
	}
	if bad > 0 {
		fmt.Printf("FAILED: %d evidence payload(s) do not match their digest\n", bad)
		os.Exit(1)
	}
	fmt.Println("OK: all evidence digests match")
}

func cmdExport(sessionID, output string) {
	store := openArchive()
	defer store.Close()

	ctx := context.Background()
	sum, err := store.GetSession(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	vs, err := store.Violations(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	type exportViolation struct {
		ID        int64     `json:"id"`
		Kind      string    `json:"kind"`
		Label     string    `json:"label"`
		Severity  string    `json:"severity"`
		Timestamp time.Time `json:"timestamp"`
		AwayMS    *int64    `json:"away_ms,omitempty"`
		ClipID    *int64    `json:"clip_id,omitempty"`
		Detail    string    `json:"detail,omitempty"`
	}
	type export struct {
		SessionID  string            `json:"session_id"`
		StartedAt  time.Time         `json:"started_at"`
		Finalized  time.Time         `json:"finalized_at"`
		ElapsedSec float64           `json:"elapsed_sec"`
		Reason     string            `json:"reason"`
		Captures   int               `json:"captures"`
		Clips      int               `json:"clips"`
		Violations []exportViolation `json:"violations"`
	}

	out := export{
		SessionID:  sum.SessionID,
		StartedAt:  sum.StartedAt,
		Finalized:  sum.Finalized,
		ElapsedSec: sum.Elapsed.Seconds(),
		Reason:     sum.Reason,
		Captures:   sum.Captures,
		Clips:      sum.Clips,
	}
	for _, v := range vs {
		ev := exportViolation{
			ID:        v.ViolationID,
			Kind:      v.Kind,
			Label:     v.Label,
			Severity:  v.Severity,
			Timestamp: v.Timestamp,
			Detail:    v.Detail,
		}
		if v.HasAway {
			away := v.AwayMS
			ev.AwayMS = &away
		}
		if v.ClipID != 0 {
			clip := v.ClipID
			ev.ClipID = &clip
		}
		out.Violations = append(out.Violations, ev)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding export: %v\n", err)
		os.Exit(1)
	}

	if output == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", output, err)
		os.Exit(1)
	}
	fmt.Printf("Exported to %s\n", output)
}
