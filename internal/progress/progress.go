// Package progress renders download progress: a single progressbar for
// one link, or mpb bars when several downloads run at once.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter is a single-download progress sink.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// CLIProgress draws one progressbar for a single download.
type CLIProgress struct {
	out  io.Writer
	bar  *progressbar.ProgressBar
	desc string
}

// NewCLIProgress creates a reporter drawing on stderr.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// NewCLIProgressTo creates a reporter drawing on w.
func NewCLIProgressTo(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start draws the bar for a file of total bytes. Mega declares the
// plaintext size up front, so the bar is never indeterminate unless the
// metadata reported zero.
func (p *CLIProgress) Start(total int64, description string) {
	p.desc = description
	size := total
	if size <= 0 {
		size = -1
	}
	p.bar = progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(p.desc),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
	)
}

func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error clears the bar and prints the failure in its place.
func (p *CLIProgress) Error(err error) {
	if err == nil {
		return
	}
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	if p.desc != "" {
		fmt.Fprintf(p.out, "\r✗ %s: %v\n", p.desc, err)
		return
	}
	fmt.Fprintf(p.out, "\n✗ %v\n", err)
}

// Hook adapts r to a session progress callback. The bar is started on
// the first call, when the declared total is known. The returned
// function never asks the session to stop.
func Hook(r Reporter, description string) func(done, total int64) bool {
	started := false
	return func(done, total int64) bool {
		if !started {
			r.Start(total, description)
			started = true
		}
		r.Update(done)
		return true
	}
}

// BarHook adapts a FileBarHandle to a session progress callback.
func BarHook(b FileBarHandle) func(done, total int64) bool {
	return func(done, total int64) bool {
		b.Update(done, total)
		return true
	}
}
