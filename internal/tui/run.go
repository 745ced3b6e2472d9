package tui

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/subscription-copilot/internal/engine"
)

// ScanFunc runs a scan, reporting progress to obs.
type ScanFunc func(ctx context.Context, obs engine.Observer) (*engine.Result, error)

// observer forwards engine events into the program's message channel.
type observer struct {
	ctx  context.Context
	msgs chan<- tea.Msg
}

func (o *observer) Observe(e engine.Event) {
	select {
	case o.msgs <- eventMsg(e):
	case <-o.ctx.Done():
	}
}

// RunScan runs scan behind the interactive scan view and returns its result
// once the user leaves the view. Stopping the view early cancels the scan and
// returns whatever it found so far.
func RunScan(ctx context.Context, theme Theme, scan ScanFunc, opts ...tea.ProgramOption) (*engine.Result, error) {
	if scan == nil {
		return nil, fmt.Errorf("scan function is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan tea.Msg, 64)
	uiDone := make(chan struct{})

	var (
		result  *engine.Result
		scanErr error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(msgs)
		result, scanErr = scan(ctx, &observer{ctx: ctx, msgs: msgs})
		select {
		case msgs <- scanDoneMsg{result: result, err: scanErr}:
		case <-uiDone:
		}
	}()

	program := tea.NewProgram(NewModel(theme, msgs, cancel), opts...)
	_, runErr := program.Run()
	close(uiDone)

	cancel()
	wg.Wait()

	if runErr != nil {
		return result, fmt.Errorf("TUI error: %w", runErr)
	}
	return result, scanErr
}
