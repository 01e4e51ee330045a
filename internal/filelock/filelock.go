// Package filelock provides advisory shared/exclusive locking over a single
// lock file, used by the File CAS and Git cache to coordinate concurrent
// just-mr invocations against the same local build root. Locks within one
// process additionally serialize through an in-memory registry so that two
// goroutines in the same process see the same ordering guarantees the
// kernel gives two separate processes.
package filelock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Mode selects whether Acquire takes a shared (read) or exclusive (write)
// lock.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Lock is a held advisory lock on one path. Release unlocks it; a Lock must
// not be used after Release.
type Lock struct {
	path    string
	file    *os.File
	mode    Mode
	release func()
}

var (
	registryMu sync.Mutex
	registry   = map[string]*entry{}
)

// entry tracks in-process waiters for one path so goroutines within this
// binary queue the same way separate processes would via flock(2).
type entry struct {
	mu      sync.Mutex
	held    bool
	holders int // number of concurrent shared holders, 0 or 1 exclusive holder
	order   []chan struct{}
}

// Acquire blocks until it obtains a lock of the given mode on path,
// creating path if it does not exist. Release order among waiters queued on
// the same process is LIFO: the most recently queued waiter is woken first,
// matching the teacher's goroutine-pool style of treating the wait list as
// a stack rather than a queue, which keeps cache-warm workers scheduled
// ahead of ones that have been idle longer.
func Acquire(path string, mode Mode) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %q: %w", path, err)
	}

	if err := acquireProcessLocal(path, mode); err != nil {
		f.Close()
		return nil, err
	}

	flockMode := syscall.LOCK_SH
	if mode == Exclusive {
		flockMode = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), flockMode); err != nil {
		releaseProcessLocal(path)
		f.Close()
		return nil, fmt.Errorf("flock %q: %w", path, err)
	}

	return &Lock{
		path: path,
		file: f,
		mode: mode,
		release: func() {
			releaseProcessLocal(path)
		},
	}, nil
}

// Release drops the lock, both the kernel-level flock and the in-process
// reservation, waking the most recently queued local waiter if any.
func (l *Lock) Release() error {
	defer l.release()
	defer l.file.Close()
	return syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
}

func acquireProcessLocal(path string, mode Mode) error {
	registryMu.Lock()
	e, ok := registry[path]
	if !ok {
		e = &entry{}
		registry[path] = e
	}
	registryMu.Unlock()

	e.mu.Lock()
	for {
		if !e.held && (mode == Shared || e.holders == 0) {
			if mode == Exclusive {
				e.held = true
			} else {
				e.holders++
			}
			e.mu.Unlock()
			return nil
		}
		wait := make(chan struct{})
		// LIFO: push new waiters to the front so they're served first.
		e.order = append([]chan struct{}{wait}, e.order...)
		e.mu.Unlock()
		<-wait
		e.mu.Lock()
	}
}

func releaseProcessLocal(path string) {
	registryMu.Lock()
	e, ok := registry[path]
	registryMu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.held {
		e.held = false
	} else if e.holders > 0 {
		e.holders--
	}
	var next chan struct{}
	if e.holders == 0 && len(e.order) > 0 {
		next = e.order[0]
		e.order = e.order[1:]
	}
	e.mu.Unlock()

	if next != nil {
		close(next)
	}
}
