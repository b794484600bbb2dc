package mainutil

import (
	"fmt"
	"os"
	"time"

	bar "github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// NewProgressBar builds a progress bar over blockCount dump blocks,
// advancing one tick per completed block, hidden automatically when
// stderr is not a terminal.
func NewProgressBar(blockCount int) *bar.ProgressBar {
	return bar.NewOptions(blockCount,
		bar.OptionSetDescription("blocks"),
		bar.OptionSetWriter(os.Stderr),
		bar.OptionSetVisibility(term.IsTerminal(int(os.Stderr.Fd()))),
		bar.OptionSetWidth(33),
		bar.OptionThrottle(99*time.Millisecond),
		bar.OptionSetTheme(bar.Theme{
			Saucer:        "#",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		bar.OptionSpinnerType(9),
		bar.OptionShowCount(),
		bar.OptionSetRenderBlankState(true),
		bar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
}
