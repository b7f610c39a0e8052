package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDiffFiles(t *testing.T) {
	a := writeTemp(t, "a.json", `{"price": 10, "tags": ["x"]}`)
	b := writeTemp(t, "b.json", `{"price": 10.0, "tags": ["x", "y"], "new": true}`)

	got, err := diffFiles(a, b)
	if err != nil {
		t.Fatalf("diffFiles() error = %v", err)
	}
	if got.Summary.Additions != 2 || got.Summary.Total != 2 {
		t.Errorf("diffFiles() summary = %+v, want 2 additions", got.Summary)
	}
	if got.SimilarityScore <= 0 || got.SimilarityScore >= 1 {
		t.Errorf("diffFiles() similarity = %v, want between 0 and 1", got.SimilarityScore)
	}
}

func TestDiffFiles_InvalidJSON(t *testing.T) {
	a := writeTemp(t, "a.json", `{"ok": true}`)
	b := writeTemp(t, "b.json", `{"ok": `)

	if _, err := diffFiles(a, b); err == nil {
		t.Error("diffFiles() expected error for invalid JSON, got nil")
	}
}

func TestWriteFormatted(t *testing.T) {
	v := &fileDiff{SimilarityScore: 0.5}

	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "json", want: `"similarity_score": 0.5`},
		{format: "yaml", want: "similarity_score: 0.5"},
		{format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			err := writeFormatted(&buf, tt.format, v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("writeFormatted(%s) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("writeFormatted(%s) = %q, want it to contain %q", tt.format, buf.String(), tt.want)
			}
		})
	}
}
