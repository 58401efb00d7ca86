package cli

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"docsearch/internal/indexer"
)

// BarProgress renders build stages as terminal progress bars, one bar per
// stage.
type BarProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

var _ indexer.Progress = (*BarProgress)(nil)

func NewBarProgress(out io.Writer) *BarProgress {
	return &BarProgress{out: out}
}

func (p *BarProgress) Stage(name string, total int) {
	p.finishBar()
	if total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *BarProgress) Advance(n int) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(n)
}

func (p *BarProgress) Finish() {
	p.finishBar()
}

func (p *BarProgress) finishBar() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

// progressEnabled reports whether stderr is an interactive terminal.
func progressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
