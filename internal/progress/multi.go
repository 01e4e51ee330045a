package progress

import (
	"fmt"
	"os"
	"sync"

	"github.com/pterm/pterm"

	"github.com/justbuild-go/just-mr/internal/termcolor"
)

// Multi renders one live line per in-flight checkout or clone worker using
// pterm's multi-printer, falling back to a single Spinner summarizing
// completed/total when stderr is not a TTY. A Spinner draws nothing off a
// TTY, so in that case no progress is shown.
type Multi struct {
	mu       sync.Mutex
	lines    map[string]*pterm.SpinnerPrinter
	multi    *pterm.MultiPrinter
	fallback *Spinner
	total    int
	done     int
	active   bool
}

// NewMulti starts a Multi for a run of `total` expected steps, labeled
// label ("checkouts", "clones") in the fallback summary.
func NewMulti(label string, total int) *Multi {
	m := &Multi{lines: map[string]*pterm.SpinnerPrinter{}, total: total}
	if termcolor.IsTerminal(os.Stderr.Fd()) {
		mp := pterm.DefaultMultiPrinter.WithWriter(os.Stderr)
		if _, err := mp.Start(); err == nil {
			m.multi = &mp
			m.active = true
			return m
		}
	}
	m.fallback = New(fmt.Sprintf("%s: 0/%d", label, total))
	m.fallback.Start()
	return m
}

// Start begins tracking one named step (e.g. a repository being checked
// out), showing it as a live spinner line when in multi-printer mode.
func (m *Multi) Start(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.multi == nil {
		return
	}
	sp, _ := pterm.DefaultSpinner.WithWriter(m.multi.NewWriter()).Start(name)
	m.lines[name] = sp
}

// Finish marks a step complete, with err indicating success or failure.
func (m *Multi) Finish(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done++
	if m.multi != nil {
		if sp, ok := m.lines[name]; ok {
			if err != nil {
				sp.Fail(fmt.Sprintf("%s: %v", name, err))
			} else {
				sp.Success(name)
			}
			delete(m.lines, name)
		}
		return
	}
	if m.fallback != nil {
		m.fallback.msg = fmt.Sprintf("%d/%d", m.done, m.total)
	}
}

// Stop finalizes the view, clearing any remaining animation.
func (m *Multi) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.multi != nil {
		_, _ = m.multi.Stop()
		return
	}
	if m.fallback != nil {
		m.fallback.Stop()
	}
}
