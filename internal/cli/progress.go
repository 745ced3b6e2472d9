package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/subscription-copilot/internal/engine"
)

// ProgressObserver renders scan events as status lines and a progress bar.
type ProgressObserver struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	total  int
}

// NewProgressObserver creates an observer writing to w.
func NewProgressObserver(w io.Writer) *ProgressObserver {
	return &ProgressObserver{writer: w}
}

// Observe implements engine.Observer.
func (p *ProgressObserver) Observe(e engine.Event) {
	switch e.Type {
	case engine.EventStatus:
		p.finishBar()
		p.println(FormatInfo(e.Message))
	case engine.EventProgress:
		p.update(e)
	case engine.EventComplete:
		p.finishBar()
		if e.Message == "cancelled" {
			p.println(FormatWarning(fmt.Sprintf("Stopped early with %d subscriptions", e.Found)))
			return
		}
		p.println(FormatSuccess(fmt.Sprintf("Found %d subscriptions", e.Found)))
	case engine.EventError:
		p.finishBar()
		p.println(FormatError(e.Message))
	}
}

func (p *ProgressObserver) update(e engine.Event) {
	if e.Total == 0 {
		return
	}
	if p.bar == nil || p.total != e.Total {
		p.finishBar()
		p.total = e.Total
		p.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionSetWriter(p.writer),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Scanning...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	p.bar.Describe(fmt.Sprintf("[cyan][bold]Scanning...[reset] %d found", e.Found))
	if err := p.bar.Set(e.Scanned); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

func (p *ProgressObserver) finishBar() {
	if p.bar == nil {
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
	p.bar = nil
	p.total = 0
	p.println("")
}

func (p *ProgressObserver) println(s string) {
	if _, err := fmt.Fprintln(p.writer, s); err != nil {
		slog.Warn("Failed to write progress", "error", err)
	}
}

var _ engine.Observer = (*ProgressObserver)(nil)
