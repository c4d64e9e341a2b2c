package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uatmail/verp-filter/config"
	"github.com/uatmail/verp-filter/model"
	"github.com/uatmail/verp-filter/outcome"
	"github.com/uatmail/verp-filter/store"
)

type submitCall struct {
	from, to string
	raw      []byte
}

type fakeSubmitter struct {
	calls []submitCall
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, from, to string, raw []byte) error {
	f.calls = append(f.calls, submitCall{from: from, to: to, raw: raw})
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeEmpty(path string) error {
	return os.WriteFile(path, nil, 0o600)
}

func testConfig(t *testing.T, createDB bool) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "undel.db")
	if createDB {
		st, err := store.Create(context.Background(), cfg.Database, nil)
		if err != nil {
			t.Fatalf("create test database: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("close test database: %v", err)
		}
	}
	return cfg
}

func newTestPipeline(t *testing.T, cfg config.Config, sub *fakeSubmitter) *Pipeline {
	t.Helper()
	p := New(cfg, Options{}, discardLogger())
	p.submitter = sub
	p.now = func() time.Time { return time.Unix(1234567890, 0) }
	return p
}

func readRecords(t *testing.T, dbPath string) []store.Record {
	t.Helper()
	st, err := store.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	defer st.Close()
	records, err := st.Recent(context.Background(), 100, false)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	return records
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name          string
		argv          []string
		wantSender    string
		wantRecipient string
		wantErr       bool
	}{
		{
			name:          "postfix pipe argv",
			argv:          []string{"verp-filter", "-f", "Alice@Example.COM", "--", "bob@example.com"},
			wantSender:    "alice@example.com",
			wantRecipient: "bob@example.com",
		},
		{
			name:    "too few args",
			argv:    []string{"verp-filter", "-f", "alice@example.com"},
			wantErr: true,
		},
		{
			name:    "no args",
			argv:    []string{"verp-filter"},
			wantErr: true,
		},
		{
			name:    "empty sender",
			argv:    []string{"verp-filter", "-f", "", "--", "bob@example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, recipient, err := ParseArgs(tt.argv)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseArgs() expected error")
				}
				var oe *outcome.Error
				if !errors.As(err, &oe) || oe.Kind != outcome.KindInvalidInvocation {
					t.Errorf("ParseArgs() error = %v, want KindInvalidInvocation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			if sender != tt.wantSender {
				t.Errorf("sender = %q, want %q", sender, tt.wantSender)
			}
			if recipient != tt.wantRecipient {
				t.Errorf("recipient = %q, want %q (must not be normalized)", recipient, tt.wantRecipient)
			}
		})
	}
}

func TestProcessTagPath(t *testing.T) {
	cfg := testConfig(t, true)
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, cfg, sub)

	raw := []byte("Subject: Hello\r\nFrom: alice@example.com\r\n\r\nbody\r\n")
	msg := model.Message{Sender: "alice+news@example.com", Recipient: "bob@example.com", Raw: raw}

	res, err := p.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	wantSender := "uatbounce.1234567890.alice+news@example.com"
	if !res.Tagged {
		t.Error("expected tag path")
	}
	if res.EnvelopeSender != wantSender {
		t.Errorf("EnvelopeSender = %q, want %q", res.EnvelopeSender, wantSender)
	}
	if !res.Recorded {
		t.Error("expected correlation record to be written")
	}

	if len(sub.calls) != 1 {
		t.Fatalf("sendmail invoked %d times, want exactly 1", len(sub.calls))
	}
	call := sub.calls[0]
	if call.from != wantSender || call.to != "bob@example.com" {
		t.Errorf("submitted envelope = %q -> %q", call.from, call.to)
	}
	if string(call.raw) != string(raw) {
		t.Error("raw message was altered before resubmission")
	}

	records := readRecords(t, cfg.Database)
	if len(records) != 1 {
		t.Fatalf("got %d records, want exactly 1", len(records))
	}
	rec := records[0]
	if rec.Verp != wantSender {
		t.Errorf("record verp = %q, want %q", rec.Verp, wantSender)
	}
	if rec.Sender != "alice@example.com" {
		t.Errorf("record sender = %q, want alice@example.com (sub-address stripped)", rec.Sender)
	}
	if rec.Recipient != "bob@example.com" {
		t.Errorf("record recipient = %q", rec.Recipient)
	}
	if rec.Subject != "Hello" {
		t.Errorf("record subject = %q, want Hello", rec.Subject)
	}
	if rec.BounceTime != 0 {
		t.Errorf("record bouncetime = %d, want 0", rec.BounceTime)
	}
}

func TestProcessPassThrough(t *testing.T) {
	cfg := testConfig(t, true)
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, cfg, sub)

	sender := "uatbounce.1234567890.alice@example.com"
	msg := model.Message{Sender: sender, Recipient: "bob@example.com", Raw: []byte("Subject: x\r\n\r\nb\r\n")}

	res, err := p.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Tagged {
		t.Error("expected pass-through")
	}
	if res.EnvelopeSender != sender {
		t.Errorf("EnvelopeSender = %q, want original %q", res.EnvelopeSender, sender)
	}
	if res.Recorded {
		t.Error("pass-through must not write a record")
	}

	if len(sub.calls) != 1 || sub.calls[0].from != sender {
		t.Errorf("expected one submission with unchanged sender, got %+v", sub.calls)
	}
	if records := readRecords(t, cfg.Database); len(records) != 0 {
		t.Errorf("pass-through wrote %d records", len(records))
	}
}

func TestProcessStoreUnavailable(t *testing.T) {
	// Database file deliberately missing.
	cfg := testConfig(t, false)
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, cfg, sub)

	msg := model.Message{Sender: "alice@example.com", Recipient: "bob@example.com", Raw: []byte("Subject: x\r\n\r\nb\r\n")}
	_, err := p.Process(context.Background(), msg)
	if err == nil {
		t.Fatal("Process() expected error for missing database")
	}

	var oe *outcome.Error
	if !errors.As(err, &oe) || oe.Kind != outcome.KindStoreUnavailable {
		t.Errorf("Process() error = %v, want KindStoreUnavailable", err)
	}
	if len(sub.calls) != 0 {
		t.Error("store open failure must abort before any subprocess invocation")
	}
	if outcome.ExitCode(err) != outcome.CodeTemporary {
		t.Errorf("exit code = %d, want %d", outcome.ExitCode(err), outcome.CodeTemporary)
	}
}

func TestProcessInsertFailureStillSubmits(t *testing.T) {
	// An empty file is a valid schemaless database: open succeeds, the
	// insert fails, and the mail must still go out.
	cfg := testConfig(t, false)
	if err := writeEmpty(cfg.Database); err != nil {
		t.Fatalf("write empty database: %v", err)
	}
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, cfg, sub)

	msg := model.Message{Sender: "alice@example.com", Recipient: "bob@example.com", Raw: []byte("Subject: x\r\n\r\nb\r\n")}
	res, err := p.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v, insert failure must not abort", err)
	}
	if res.Recorded {
		t.Error("Recorded should be false when the insert failed")
	}
	if len(sub.calls) != 1 {
		t.Errorf("sendmail invoked %d times, want 1", len(sub.calls))
	}
}

func TestProcessSubmissionFailure(t *testing.T) {
	cfg := testConfig(t, true)
	sub := &fakeSubmitter{err: outcome.Errorf(outcome.KindSubmission, "sendmail exit 1")}
	p := newTestPipeline(t, cfg, sub)

	msg := model.Message{Sender: "alice@example.com", Recipient: "bob@example.com", Raw: []byte("Subject: x\r\n\r\nb\r\n")}
	_, err := p.Process(context.Background(), msg)
	if err == nil {
		t.Fatal("Process() expected submission error")
	}
	if outcome.ExitCode(err) != outcome.CodeTemporary {
		t.Errorf("exit code = %d, want %d", outcome.ExitCode(err), outcome.CodeTemporary)
	}

	// The record written before the failed submission stays untouched.
	records := readRecords(t, cfg.Database)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].BounceTime != 0 {
		t.Errorf("bouncetime = %d, want 0", records[0].BounceTime)
	}
}

func TestProcessDryRun(t *testing.T) {
	cfg := testConfig(t, false) // no database needed in dry-run
	sub := &fakeSubmitter{}
	p := New(cfg, Options{DryRun: true}, discardLogger())
	p.submitter = sub
	p.now = func() time.Time { return time.Unix(1234567890, 0) }

	msg := model.Message{Sender: "alice@example.com", Recipient: "bob@example.com", Raw: []byte("Subject: x\r\n\r\nb\r\n")}
	res, err := p.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !res.Tagged || res.Recorded {
		t.Errorf("dry run result = %+v, want tagged and not recorded", res)
	}
	if len(sub.calls) != 0 {
		t.Error("dry run must not invoke sendmail")
	}
}
