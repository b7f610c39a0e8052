package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"drift-go/internal/canonical"
	"drift-go/internal/drift"
	"drift-go/internal/jsondiff"
	"drift-go/internal/queue"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02 15:04:05"

// fileDiff is the output of the offline diff command.
type fileDiff struct {
	Operations      []jsondiff.Operation `json:"operations"`
	Summary         jsondiff.Summary     `json:"summary"`
	SimilarityScore float64              `json:"similarity_score"`
}

func diffFiles(pathA, pathB string) (*fileDiff, error) {
	a, err := readDocument(pathA)
	if err != nil {
		return nil, err
	}
	b, err := readDocument(pathB)
	if err != nil {
		return nil, err
	}
	ops := jsondiff.Diff(a, b)
	return &fileDiff{
		Operations:      ops,
		Summary:         jsondiff.Categorize(ops),
		SimilarityScore: jsondiff.Similarity(a, b),
	}, nil
}

func readDocument(path string) (any, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	doc, err := canonical.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// writeFormatted writes v as indented JSON or as YAML. YAML goes through a
// JSON round trip so that field names follow the json tags.
func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func printSnapshots(w io.Writer, snaps []*drift.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	for _, s := range snaps {
		archived := ""
		if s.ArchivedAt != nil {
			archived = "[archived]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID,
			s.Timestamp.Local().Format(timeLayout),
			s.ContentHash[:12],
			s.SizeBytes,
			s.Source,
			archived,
		)
	}
}

func printDeltas(w io.Writer, deltas []*drift.Delta) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	for _, d := range deltas {
		fmt.Fprintf(tw, "%s\t%s\t%s -> %s\t+%d -%d ~%d\t%.3f\n",
			d.ID,
			d.Timestamp.Local().Format(timeLayout),
			d.FromSnapshotID,
			d.ToSnapshotID,
			d.Additions,
			d.Deletions,
			d.Modifications,
			d.SimilarityScore,
		)
	}
}

func printDeadLetters(w io.Writer, letters []*queue.DeadLetter) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	for _, l := range letters {
		job := "(unreadable payload)"
		if j, err := l.Job(); err == nil {
			job = fmt.Sprintf("%s: %s -> %s", j.EndpointID, j.PreviousSnapshotID, j.SnapshotID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			l.ID,
			l.DeadAt.Local().Format(timeLayout),
			l.Attempts,
			job,
			l.Reason,
		)
	}
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("a terminal is required to enter the passphrase")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

func promptNewPassphrase() (string, error) {
	pass, err := promptPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	confirm, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", fmt.Errorf("passphrases do not match")
	}
	return pass, nil
}
