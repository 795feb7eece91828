package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type recordingReporter struct {
	starts  int
	total   int64
	updates []int64
}

func (r *recordingReporter) Start(total int64, description string) { r.starts++; r.total = total }
func (r *recordingReporter) Update(current int64)                  { r.updates = append(r.updates, current) }
func (r *recordingReporter) Finish()                               {}
func (r *recordingReporter) Error(err error)                       {}

func TestHook_StartsOnce(t *testing.T) {
	r := &recordingReporter{}
	hook := Hook(r, "abcd1234")

	for _, done := range []int64{4, 8, 11} {
		if !hook(done, 11) {
			t.Fatal("hook must not cancel the session")
		}
	}
	if r.starts != 1 || r.total != 11 {
		t.Errorf("starts=%d total=%d, want 1 and 11", r.starts, r.total)
	}
	if len(r.updates) != 3 || r.updates[2] != 11 {
		t.Errorf("updates = %v", r.updates)
	}
}

func TestCLIProgress_WritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgressTo(&buf)
	p.Start(100, "file")
	p.Update(100)
	p.Finish()
	p.Error(errors.New("boom"))

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("output missing error: %q", buf.String())
	}
}

func TestTextUI_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	ui := NewTextUI(2, &buf)

	ok := ui.AddFileBar(1, "abcd1234", "/data/out/hello.bin")
	hook := BarHook(ok)
	hook(4, 11)
	hook(11, 11)
	hook(11, 11)
	ok.Complete(nil)

	failed := ui.AddFileBar(2, "efgh5678", "/data/out/other.bin")
	failed.Update(5, 20)
	failed.SetRetry(1)
	failed.Complete(errors.New("transport error"))
	ui.Wait()

	out := buf.String()
	for _, want := range []string{
		"Downloading [1/2]: abcd1234",
		"✓ …/out/hello.bin ← abcd1234",
		"Retrying [2/2]: efgh5678 (attempt 2)",
		"✗ …/out/other.bin ← efgh5678: transport error",
		"1 retries",
		"[1/2] abcd1234: Downloaded 11 / 11 bytes.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "Downloaded"); n != 1 {
		t.Errorf("byte-count lines = %d, want only the final one:\n%s", n, out)
	}
	if ui.GetCompleted() != 2 {
		t.Errorf("GetCompleted() = %d", ui.GetCompleted())
	}
	if ui.IsTerminal() || ui.Writer() != &buf {
		t.Error("text UI should write plain output")
	}
}

func TestTruncatePath(t *testing.T) {
	tests := map[string]string{
		"file.bin":        "file.bin",
		"out/file.bin":    "file.bin",
		"/a/b/c/file.bin": "…/c/file.bin",
		"s3://bucket/k/v": "…/k/v",
	}
	for in, want := range tests {
		if got := truncatePath(in, 2); got != want {
			t.Errorf("truncatePath(%q) = %q, want %q", in, got, want)
		}
	}
}
