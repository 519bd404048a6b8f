package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a file attached to a terminal.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar tracks a fixed number of steps, each with a label.
// Example: [=========>          ]  45% link numpy
//
// On a terminal the bar is redrawn in place. Elsewhere one line is printed
// per step so logs show what ran.
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	tty     bool
	total   int
	current int
	label   string
	width   int
}

// NewProgress creates a progress bar writing to os.Stderr.
func NewProgress(total int, label string) *ProgressBar {
	return NewProgressTo(os.Stderr, total, label)
}

// NewProgressTo creates a progress bar writing to w.
func NewProgressTo(w io.Writer, total int, label string) *ProgressBar {
	return &ProgressBar{
		w:     w,
		tty:   writerIsTTY(w),
		total: total,
		label: label,
		width: 30,
	}
}

// Step advances the bar by one and shows label as the current step.
func (p *ProgressBar) Step(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current < p.total {
		p.current++
	}
	p.label = label
	p.draw()
}

// Finish fills the bar and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		return
	}
	p.current = p.total
	p.draw()
	fmt.Fprintln(p.w)
}

// Percent returns the completed share in the range 0-100.
func (p *ProgressBar) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent()
}

func (p *ProgressBar) percent() int {
	if p.total <= 0 {
		return 100
	}
	return p.current * 100 / p.total
}

// draw must be called with the lock held.
func (p *ProgressBar) draw() {
	if !p.tty {
		fmt.Fprintf(p.w, "(%d/%d) %s\n", p.current, p.total, p.label)
		return
	}

	filled := p.width
	if p.total > 0 {
		filled = p.current * p.width / p.total
	}
	bar := strings.Repeat("=", max(0, filled-1))
	if filled > 0 {
		bar += ">"
	}
	bar += strings.Repeat(" ", p.width-filled)
	fmt.Fprintf(p.w, "\r\033[K[%s] %3d%% %s", bar, p.percent(), p.label)
}

// Spinner shows an animated indicator for work of unknown length.
// Example: /  Cloning base environment (12s)
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	message string
	started time.Time
	stop    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a spinner writing to os.Stderr. It does nothing until
// Start is called.
func NewSpinner(message string) *Spinner {
	return NewSpinnerTo(os.Stderr, message)
}

// NewSpinnerTo creates a spinner writing to w.
func NewSpinnerTo(w io.Writer, message string) *Spinner {
	return &Spinner{w: w, message: message}
}

// Start begins the animation. On a non-terminal writer the message is
// printed once instead.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.started = time.Now()
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	if !writerIsTTY(s.w) {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		close(s.stopped)
		return
	}

	go s.spin()
}

func (s *Spinner) spin() {
	defer close(s.stopped)
	frames := `|/-\`
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			elapsed := time.Since(s.started).Truncate(time.Second)
			fmt.Fprintf(s.w, "\r\033[K%c  %s (%s)", frames[i%len(frames)], s.message, elapsed)
			s.mu.Unlock()
		}
	}
}

// Update replaces the message while the spinner runs.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop ends the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	if stop == nil {
		s.mu.Unlock()
		return
	}
	s.stop = nil
	s.mu.Unlock()

	close(stop)
	<-stopped

	if writerIsTTY(s.w) {
		fmt.Fprint(s.w, "\r\033[K")
	}
}

// StopWithMessage stops the spinner and prints message on its own line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	fmt.Fprintln(s.w, message)
}
