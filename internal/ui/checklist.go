package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinFrames = [...]string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Checklist redraws step snapshots in place on a terminal.
type Checklist struct {
	out           io.Writer
	steps         []stepState
	renderedLines int
	mu            sync.Mutex
	stop          chan struct{}
	frame         int
	once          sync.Once
}

// NewChecklist creates a Checklist writing to out.
func NewChecklist(out io.Writer) *Checklist {
	return &Checklist{out: out, stop: make(chan struct{})}
}

// OnSnapshot prints the first snapshot and redraws on every later one.
func (c *Checklist) OnSnapshot(snap stepSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.steps == nil
	c.steps = snap.Steps

	if first {
		for _, s := range c.steps {
			fmt.Fprintln(c.out, c.line(s))
		}
		c.renderedLines = len(c.steps)
		go c.spin()
		return
	}
	c.redraw()
}

// Close stops the spinner.
func (c *Checklist) Close() {
	c.once.Do(func() {
		close(c.stop)
	})
}

func (c *Checklist) spin() {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.frame = (c.frame + 1) % len(spinFrames)
			c.redraw()
			c.mu.Unlock()
		}
	}
}

// redraw reprints all step lines in place. Caller must hold c.mu.
func (c *Checklist) redraw() {
	if len(c.steps) == 0 && c.renderedLines == 0 {
		return
	}
	if c.renderedLines > 0 {
		fmt.Fprintf(c.out, "\033[%dA", c.renderedLines)
	}
	for _, s := range c.steps {
		fmt.Fprintf(c.out, "\r%s\033[K\n", c.line(s))
	}
	for i := len(c.steps); i < c.renderedLines; i++ {
		fmt.Fprint(c.out, "\r\033[K\n")
	}
	c.renderedLines = len(c.steps)
}

func (c *Checklist) line(s stepState) string {
	var icon, label string
	switch s.Status {
	case stepRunning:
		icon, label = accentStyle.Render(spinFrames[c.frame]), s.Title
	case stepDone:
		icon, label = okStyle.Render("✓"), s.Title
	case stepSkipped:
		icon, label = Muted("-"), Muted(s.Title)
	case stepFailed:
		icon, label = errorStyle.Render("✗"), errorStyle.Render(s.Title)
	default:
		icon, label = Muted("●"), Muted(s.Title)
	}
	line := "  " + icon + " " + label
	if s.Message != "" {
		line += " " + Muted(s.Message)
	}
	return line
}
