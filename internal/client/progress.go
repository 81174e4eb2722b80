package client

import (
	"github.com/pterm/pterm"

	"github.com/1ureka/fileshare/internal/util"
)

// progressBar adapts a pterm progress bar to Progress.
type progressBar struct {
	bar *pterm.ProgressbarPrinter
}

// TerminalProgress renders transfers as pterm progress bars. If the bar
// cannot start, the transfer proceeds without one.
func TerminalProgress(title string, total uint64) Progress {
	bar, err := pterm.DefaultProgressbar.
		WithTotal(int(total)).
		WithTitle(title).
		WithRemoveWhenDone().
		Start()
	if err != nil {
		util.LogDebug("progress bar unavailable: %v", err)
		return nil
	}
	return &progressBar{bar: bar}
}

func (p *progressBar) Write(b []byte) (int, error) {
	p.bar.Add(len(b))
	return len(b), nil
}

func (p *progressBar) Done() {
	p.bar.Stop()
}
