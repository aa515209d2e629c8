// Package tui shows a training run live in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/lorenzonet/internal/train"
	"github.com/san-kum/lorenzonet/internal/viz"
)

// FitFunc runs training, reporting progress to obs and stopping when ctx is
// canceled.
type FitFunc func(ctx context.Context, obs train.Observer) (*train.Result, error)

type progressMsg train.Progress

type doneMsg struct {
	err error
}

type trainModel struct {
	title    string
	epochs   int
	cancel   context.CancelFunc
	last     train.Progress
	seen     bool
	losses   []float64
	started  time.Time
	stopping bool
	done     bool
	err      error
	width    int
}

func newTrainModel(title string, epochs int, cancel context.CancelFunc) trainModel {
	return trainModel{
		title:   title,
		epochs:  epochs,
		cancel:  cancel,
		started: time.Now(),
		width:   80,
	}
}

func (m trainModel) Init() tea.Cmd { return nil }

func (m trainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			// keep drawing until the trainer notices the cancellation
			m.stopping = true
			m.cancel()
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case progressMsg:
		m.last = train.Progress(msg)
		m.seen = true
		m.losses = append(m.losses, msg.Loss)
		return m, nil
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m trainModel) View() string {
	var b strings.Builder

	status := viz.StatusRunning.Render("● training")
	switch {
	case m.done && m.err != nil:
		status = viz.StatusFailed.Render("✗ " + m.err.Error())
	case m.done:
		status = viz.StatusDone.Render("✓ done")
	case m.stopping:
		status = viz.StatusFailed.Render("○ stopping")
	}
	b.WriteString(viz.Header.Render(m.title) + "  " + status + "\n\n")

	fraction := 0.0
	if m.seen && m.epochs > 0 {
		fraction = float64(m.last.Epoch+1) / float64(m.epochs)
	}
	barWidth := max(min(m.width-20, 50), 10)
	b.WriteString(fmt.Sprintf("%s %5.1f%%\n\n", viz.ProgressBar(fraction, barWidth), 100*fraction))

	if !m.seen {
		b.WriteString(viz.Subtle.Render("waiting for the first epoch") + "\n")
	} else {
		p := m.last
		b.WriteString(viz.KV("epoch", "%d/%d", p.Epoch+1, m.epochs) + "   " +
			viz.KV("lr", "%.3e", p.LR) + "   " +
			viz.KV("elapsed", "%s", p.Elapsed.Round(time.Second)) + "\n")
		b.WriteString(viz.KV("loss", "%.6e", p.Loss) + "   " +
			viz.KV("residual", "%.3e", p.Residual) + "   " +
			viz.KV("initial", "%.3e", p.Initial) + "\n")
		if eta, ok := m.eta(); ok {
			b.WriteString(viz.KV("eta", "%s", eta.Round(time.Second)) + "\n")
		}
	}

	if curve := viz.LossCurve(m.losses, max(m.width-15, 20), 8); curve != "" {
		b.WriteString("\n" + viz.Panel.Render(curve) + "\n")
	}

	b.WriteString("\n" + viz.KeyHint.Render("q stop training") + "\n")
	return b.String()
}

func (m trainModel) eta() (time.Duration, bool) {
	done := m.last.Epoch + 1
	if done <= 0 || m.epochs <= done {
		return 0, false
	}
	per := m.last.Elapsed / time.Duration(done)
	return per * time.Duration(m.epochs-done), true
}

// Run trains in the background while drawing its progress. Quitting the view
// cancels the training context; Run still waits for fit to return.
func Run(ctx context.Context, title string, epochs int, fit FitFunc) (*train.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newTrainModel(title, epochs, cancel), tea.WithAltScreen())

	var (
		result *train.Result
		err    error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result, err = fit(ctx, train.ObserverFunc(func(pr train.Progress) {
			p.Send(progressMsg(pr))
		}))
		p.Send(doneMsg{err: err})
	}()

	if _, uiErr := p.Run(); uiErr != nil {
		cancel()
		<-finished
		return result, uiErr
	}
	<-finished
	return result, err
}
