package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

var (
	errExpectTimeout = errors.New("timed out waiting for pattern")
	errStreamClosed  = errors.New("terminal output closed")
)

// expecter accumulates terminal output from a background reader and lets the
// session wait for patterns in it. Output before a match is handed to the
// caller; output after it stays buffered for the next wait.
type expecter struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}
}

func newExpecter(r io.Reader) *expecter {
	e := &expecter{notify: make(chan struct{}, 1)}
	go e.pump(r)
	return e
}

func (e *expecter) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		e.mu.Lock()
		if n > 0 {
			e.buf = append(e.buf, chunk[:n]...)
		}
		if err != nil {
			e.err = err
		}
		e.mu.Unlock()

		select {
		case e.notify <- struct{}{}:
		default:
		}

		if err != nil {
			return
		}
	}
}

// searchOverlap is how far behind the already scanned output a new search
// starts. A match longer than this that straddles two reads can be missed.
const searchOverlap = 8 << 10

type match struct {
	// index of the pattern that matched
	index  int
	before string
	text   string
	groups []string
}

// expect waits until one of patterns appears in the output. When several
// match, the one starting earliest wins; ties go to the lower index.
func (e *expecter) expect(ctx context.Context, patterns []*regexp.Regexp, timeout time.Duration) (match, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Each wait rescans the buffer once, then only the output that arrives
	// while it waits.
	scanned := 0
	for {
		e.mu.Lock()
		m, ok := e.search(patterns, scanned)
		scanned = len(e.buf)
		readErr := e.err
		e.mu.Unlock()

		if ok {
			return m, nil
		}
		if readErr != nil {
			return match{}, fmt.Errorf("%w: %v", errStreamClosed, readErr)
		}

		select {
		case <-e.notify:
		case <-timer.C:
			return match{}, errExpectTimeout
		case <-ctx.Done():
			return match{}, ctx.Err()
		}
	}
}

// search looks for patterns in the buffer from searchOverlap bytes before
// offset from. It must be called with mu held.
func (e *expecter) search(patterns []*regexp.Regexp, from int) (match, bool) {
	start := max(from-searchOverlap, 0)
	best := -1
	var bestLoc []int
	for i, p := range patterns {
		loc := p.FindSubmatchIndex(e.buf[start:])
		if loc == nil {
			continue
		}
		for j := range loc {
			if loc[j] >= 0 {
				loc[j] += start
			}
		}
		if best == -1 || loc[0] < bestLoc[0] {
			best, bestLoc = i, loc
		}
	}
	if best == -1 {
		return match{}, false
	}

	m := match{
		index:  best,
		before: string(e.buf[:bestLoc[0]]),
		text:   string(e.buf[bestLoc[0]:bestLoc[1]]),
	}
	for g := 2; g+1 < len(bestLoc); g += 2 {
		if bestLoc[g] < 0 {
			m.groups = append(m.groups, "")
			continue
		}
		m.groups = append(m.groups, string(e.buf[bestLoc[g]:bestLoc[g+1]]))
	}
	e.buf = append([]byte(nil), e.buf[bestLoc[1]:]...)
	return m, true
}
