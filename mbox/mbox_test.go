package mbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleMbox = "From alice@example.com Mon Jan  2 15:04:05 2006\n" +
	"Return-Path: <alice@example.com>\n" +
	"Subject: first\n" +
	"\n" +
	"body one\n" +
	"\n" +
	"From carol@example.com Mon Jan  2 16:04:05 2006\n" +
	"Return-Path: <carol@example.com>\n" +
	"Subject: second\n" +
	"\n" +
	"body two\n"

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mbox")
	if err := os.WriteFile(path, []byte(sampleMbox), 0o644); err != nil {
		t.Fatalf("write mbox: %v", err)
	}
	return path
}

func TestWalk(t *testing.T) {
	path := writeSample(t)

	var subjects []string
	err := Walk(path, func(index int, raw []byte, readErr error) error {
		if readErr != nil {
			t.Fatalf("unexpected read error at %d: %v", index, readErr)
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if after, ok := strings.CutPrefix(line, "Subject: "); ok {
				subjects = append(subjects, strings.TrimRight(after, "\r"))
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if len(subjects) != 2 || subjects[0] != "first" || subjects[1] != "second" {
		t.Errorf("subjects = %v, want [first second]", subjects)
	}
}

func TestWalkCallbackErrorStops(t *testing.T) {
	path := writeSample(t)

	calls := 0
	err := Walk(path, func(index int, raw []byte, readErr error) error {
		calls++
		return os.ErrClosed
	})
	if err == nil {
		t.Fatal("Walk() should propagate callback errors")
	}
	if calls != 1 {
		t.Errorf("callback ran %d times after an error, want 1", calls)
	}
}

func TestCount(t *testing.T) {
	path := writeSample(t)

	count, err := Count(path)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}

func TestWalkMissingFile(t *testing.T) {
	if err := Walk(filepath.Join(t.TempDir(), "missing.mbox"), nil); err == nil {
		t.Error("Walk() expected error for missing file")
	}
}
