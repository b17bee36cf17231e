package terminal

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestExpect_EarliestMatchWins(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	go w.Write([]byte("aaa second xx first yy"))

	patterns := []*regexp.Regexp{regexp.MustCompile("first"), regexp.MustCompile("second")}
	m, err := e.expect(context.Background(), patterns, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m.index != 1 {
		t.Errorf("index = %d, want 1", m.index)
	}
	if m.before != "aaa " {
		t.Errorf("before = %q, want %q", m.before, "aaa ")
	}

	// Remaining output stays buffered for the next wait.
	m, err = e.expect(context.Background(), patterns[:1], time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m.before != " xx " {
		t.Errorf("before = %q, want %q", m.before, " xx ")
	}
}

func TestExpect_TiesGoToLowerIndex(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	go w.Write([]byte("prompt> "))

	patterns := []*regexp.Regexp{regexp.MustCompile("prompt"), regexp.MustCompile("prompt>")}
	m, err := e.expect(context.Background(), patterns, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m.index != 0 {
		t.Errorf("index = %d, want 0", m.index)
	}
}

func TestExpect_Groups(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	go w.Write([]byte("marker:17\r\n"))

	m, err := e.expect(context.Background(), []*regexp.Regexp{regexp.MustCompile(`marker:(\d+)\r?\n`)}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.groups) != 1 || m.groups[0] != "17" {
		t.Errorf("groups = %q, want [17]", m.groups)
	}
}

func TestExpect_LargeOutput(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	filler := strings.Repeat("x", 4096)
	go func() {
		for i := 0; i < 256; i++ {
			w.Write([]byte(filler))
		}
		// The marker straddles two reads.
		w.Write([]byte("DO"))
		w.Write([]byte("NE tail"))
	}()

	m, err := e.expect(context.Background(), []*regexp.Regexp{regexp.MustCompile("DONE")}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.before) != 256*4096 {
		t.Errorf("len(before) = %d, want %d", len(m.before), 256*4096)
	}
}

func TestExpect_SearchSkipsScannedOutput(t *testing.T) {
	e := &expecter{buf: []byte("needle" + strings.Repeat("x", 2*searchOverlap))}
	patterns := []*regexp.Regexp{regexp.MustCompile("needle")}

	if _, ok := e.search(patterns, len(e.buf)); ok {
		t.Error("search from the end found output it had already scanned")
	}
	m, ok := e.search(patterns, 0)
	if !ok {
		t.Fatal("search from the start missed the match")
	}
	if m.before != "" || m.text != "needle" {
		t.Errorf("match = %+v", m)
	}
}

func TestExpect_NewPatternsRescanBuffer(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	go w.Write([]byte("password: "))

	_, err := e.expect(context.Background(), []*regexp.Regexp{regexp.MustCompile("never")}, 50*time.Millisecond)
	if !errors.Is(err, errExpectTimeout) {
		t.Fatalf("err = %v, want errExpectTimeout", err)
	}
	m, err := e.expect(context.Background(), []*regexp.Regexp{regexp.MustCompile("password: ")}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m.before != "" {
		t.Errorf("before = %q, want empty", m.before)
	}
}

func TestExpect_Timeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	_, err := e.expect(context.Background(), []*regexp.Regexp{regexp.MustCompile("never")}, 20*time.Millisecond)
	if !errors.Is(err, errExpectTimeout) {
		t.Fatalf("err = %v, want errExpectTimeout", err)
	}
}

func TestExpect_StreamClosed(t *testing.T) {
	r, w := io.Pipe()
	e := newExpecter(r)
	w.Close()

	_, err := e.expect(context.Background(), []*regexp.Regexp{regexp.MustCompile("never")}, time.Second)
	if !errors.Is(err, errStreamClosed) {
		t.Fatalf("err = %v, want errStreamClosed", err)
	}
}

func TestExpect_ContextCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	e := newExpecter(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.expect(ctx, []*regexp.Regexp{regexp.MustCompile("never")}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSplitQuoted(t *testing.T) {
	got := splitQuoted("abcdef")
	if got != `'abc'"def"` {
		t.Errorf("splitQuoted = %s", got)
	}
	if regexp.MustCompile("abcdef").MatchString(got) {
		t.Error("quoted form must not contain the marker")
	}
}
