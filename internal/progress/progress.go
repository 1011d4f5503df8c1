// Package progress draws a one-line spinner with elapsed time while a worker
// runs. It is cosmetic: nothing here touches job files, and it stays silent
// when the output is not a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Mode controls whether the indicator is drawn.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
)

const (
	tickInterval = 100 * time.Millisecond
	clearWidth   = 80
)

var frameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

// Indicator starts spinners. The zero value is disabled.
type Indicator struct {
	out     io.Writer
	label   string
	enabled bool
	frames  []string
	now     func() time.Time

	// mu serializes spinner frames with writes through Guard.
	mu    sync.Mutex
	drawn bool
}

// New returns an indicator writing to out. In auto mode it is enabled only
// when out is a terminal.
func New(out io.Writer, label string, mode Mode) *Indicator {
	enabled := false
	switch mode {
	case ModeOn:
		enabled = true
	case ModeOff:
	default:
		enabled = isTerminal(out)
	}
	return &Indicator{
		out:     out,
		label:   label,
		enabled: enabled,
		frames:  spinner.MiniDot.Frames,
		now:     time.Now,
	}
}

// Enabled reports whether Start will draw anything.
func (ind *Indicator) Enabled() bool {
	return ind != nil && ind.enabled
}

// Start draws message until the returned stop function is called. Stop
// clears the line and is safe to call more than once.
func (ind *Indicator) Start(message string) (stop func()) {
	if !ind.Enabled() {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go ind.spin(message, done, finished)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func (ind *Indicator) spin(message string, done <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	start := ind.now()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		frame := ind.frames[i%len(ind.frames)]
		ind.mu.Lock()
		fmt.Fprint(ind.out, "\r"+ind.line(frame, message, ind.now().Sub(start)))
		ind.drawn = true
		ind.mu.Unlock()

		select {
		case <-done:
			ind.mu.Lock()
			ind.clearLocked()
			ind.mu.Unlock()
			return
		case <-ticker.C:
		}
	}
}

func (ind *Indicator) clearLocked() {
	if ind.drawn {
		fmt.Fprint(ind.out, "\r"+strings.Repeat(" ", clearWidth)+"\r")
		ind.drawn = false
	}
}

// Guard wraps w so each write first erases a spinner line in progress. Log
// output sharing the terminal with the spinner goes through it; the next
// frame redraws below the written lines.
func (ind *Indicator) Guard(w io.Writer) io.Writer {
	if !ind.Enabled() {
		return w
	}
	return &guardedWriter{ind: ind, w: w}
}

type guardedWriter struct {
	ind *Indicator
	w   io.Writer
}

func (g *guardedWriter) Write(p []byte) (int, error) {
	g.ind.mu.Lock()
	defer g.ind.mu.Unlock()
	g.ind.clearLocked()
	return g.w.Write(p)
}

func (ind *Indicator) line(frame, message string, elapsed time.Duration) string {
	secs := int(elapsed / time.Second)
	ts := ind.now().Format("15:04:05")
	return fmt.Sprintf("[%s] [%s] %s %s (%d:%02d)", ts, ind.label, frameStyle.Render(frame), message, secs/60, secs%60)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
