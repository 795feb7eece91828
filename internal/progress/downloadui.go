package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const (
	updateInterval = 300 * time.Millisecond

	// textInterval spaces the byte-count lines of the plain-text UI.
	textInterval = 2 * time.Second
)

// DownloadUI manages multiple concurrent download progress bars using mpb
type DownloadUI struct {
	progress   *mpb.Progress
	out        io.Writer // plain-text output when not on a terminal
	isTerminal bool
	totalFiles int
	completed  atomic.Int32

	outMu sync.Mutex // serialises plain-text lines from concurrent downloads
}

// DownloadFileBar represents a single file download progress bar
type DownloadFileBar struct {
	bar         *mpb.Bar
	ui          *DownloadUI
	index       int
	fileID      string
	destination string
	retries     atomic.Int32

	mu         sync.Mutex
	size       int64
	done       int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	finalShown bool
}

// NewDownloadUI renders bars on stderr when it is a terminal and falls
// back to one line per event on stdout otherwise.
func NewDownloadUI(totalFiles int) *DownloadUI {
	if IsTerminal(os.Stderr) {
		enableANSI(os.Stderr)
		return &DownloadUI{
			progress: mpb.New(
				mpb.WithOutput(os.Stderr),
				mpb.WithRefreshRate(updateInterval),
				mpb.WithWidth(100),
			),
			out:        os.Stderr,
			isTerminal: true,
			totalFiles: totalFiles,
		}
	}
	return NewTextUI(totalFiles, os.Stdout)
}

// NewTextUI writes one line per event to out and never draws bars.
func NewTextUI(totalFiles int, out io.Writer) *DownloadUI {
	return &DownloadUI{
		progress:   mpb.New(mpb.WithOutput(io.Discard)),
		out:        out,
		totalFiles: totalFiles,
	}
}

// AddFileBar creates a bar for a download. The total is filled in on the
// first Update, once metadata has been fetched.
func (u *DownloadUI) AddFileBar(index int, fileID, destination string) FileBarHandle {
	now := time.Now()
	fb := &DownloadFileBar{
		ui:          u,
		index:       index,
		fileID:      fileID,
		destination: destination,
		startTime:   now,
		lastUpdate:  now,
	}

	if !u.isTerminal {
		u.printf("Downloading [%d/%d]: %s → %s\n", index, u.totalFiles, fileID, truncatePath(destination, 2))
		return fb
	}

	fb.bar = u.progress.New(0,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				base := fmt.Sprintf("[%d/%d] %s → %s", fb.index, u.totalFiles, fb.fileID, truncatePath(fb.destination, 2))
				if retries := fb.retries.Load(); retries > 0 {
					return fmt.Sprintf("%s (retry %d)", base, retries)
				}
				return base
			}, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if s.Total <= 0 {
					return fmt.Sprintf("%6.2f%%", 0.0)
				}
				return fmt.Sprintf("%6.2f%%", float64(s.Current)/float64(s.Total)*100)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
		mpb.BarRemoveOnComplete(),
	)
	return fb
}

// Update moves the bar to done bytes. Redraw input is throttled; the
// final call for a download always lands.
func (f *DownloadFileBar) Update(done, total int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if total != f.size {
		f.size = total
		if f.bar != nil {
			f.bar.SetTotal(total, false)
		}
	}
	f.done = done

	if f.bar == nil {
		f.reportText(done, total)
		return
	}
	now := time.Now()
	elapsed := now.Sub(f.lastUpdate)
	if elapsed < updateInterval && done < total {
		return
	}
	// EwmaIncrBy keeps speed and ETA moving even when no bytes arrived.
	f.bar.EwmaIncrBy(int(done-f.lastBytes), elapsed)
	f.lastBytes = done
	f.lastUpdate = now
}

// SetRetry records a restart. The next attempt begins again from zero.
func (f *DownloadFileBar) SetRetry(count int) {
	f.retries.Store(int32(count))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = 0
	f.lastBytes = 0
	f.finalShown = false
	f.startTime = time.Now()
	if f.bar != nil {
		f.bar.SetCurrent(0)
	}
	if !f.ui.isTerminal {
		f.ui.printf("Retrying [%d/%d]: %s (attempt %d)\n", f.index, f.ui.totalFiles, f.fileID, count+1)
	}
}

// Complete marks the download as finished and prints a summary
func (f *DownloadFileBar) Complete(err error) {
	f.mu.Lock()
	done, size := f.done, f.size
	elapsed := time.Since(f.startTime)
	f.mu.Unlock()

	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetCurrent(done)
			f.bar.SetTotal(done, true)
		}
		speed := 0.0
		if secs := elapsed.Seconds(); secs > 0 {
			speed = mib(done) / secs
		}
		msg = fmt.Sprintf("✓ %s ← %s (%.1f MiB, %s, %.1f MiB/s)\n",
			truncatePath(f.destination, 2), f.fileID, mib(done), elapsed.Round(time.Second), speed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s ← %s: %v (%.1f of %.1f MiB, %d retries)\n",
			truncatePath(f.destination, 2), f.fileID, err, mib(done), mib(size), f.retries.Load())
	}

	// Through mpb's writer so the message lands above the bars.
	f.ui.printf("%s", msg)
	f.ui.completed.Add(1)
}

// reportText prints "Downloaded N / M bytes." at most every textInterval,
// and once more when the download reaches its total. Caller holds f.mu.
func (f *DownloadFileBar) reportText(done, total int64) {
	now := time.Now()
	final := total > 0 && done >= total
	switch {
	case final && f.finalShown:
		return
	case !final && now.Sub(f.lastUpdate) < textInterval:
		return
	}
	f.finalShown = final
	f.lastUpdate = now
	f.ui.printf("[%d/%d] %s: Downloaded %d / %d bytes.\n", f.index, f.ui.totalFiles, f.fileID, done, total)
}

func (u *DownloadUI) printf(format string, args ...any) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintf(u.Writer(), format, args...)
}

// Wait blocks until all progress bars complete
func (u *DownloadUI) Wait() {
	u.progress.Wait()
}

// Writer returns an io.Writer that safely prints above the progress bars
func (u *DownloadUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// GetCompleted returns the number of completed downloads
func (u *DownloadUI) GetCompleted() int {
	return int(u.completed.Load())
}

// IsTerminal returns whether output is to a terminal
func (u *DownloadUI) IsTerminal() bool {
	return u.isTerminal
}
