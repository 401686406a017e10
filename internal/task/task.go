// Package task implements the crawl task queue protocol: tagged tasks with
// canonical serialization, an equivalence set, and a FIFO queue that
// suppresses redundant enqueues so cyclic link graphs cannot loop a crawl.
package task

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Task is one unit of crawl work: a type tag plus ordered primitive
// arguments. The zero Task is the root/seed task of a run.
type Task struct {
	Type string
	Args []any
}

// Root reports whether this is the seed task handed to a spider at run start.
func (t Task) Root() bool {
	return t.Type == "" && len(t.Args) == 0
}

// New builds a task from a tag and its arguments.
func New(typeTag string, args ...any) Task {
	return Task{Type: typeTag, Args: args}
}

func (t Task) String() string {
	if t.Root() {
		return "(root)"
	}
	return fmt.Sprintf("%s%v", t.Type, t.Args)
}

var canonicalMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Canonical returns the deterministic serialization used for equivalence:
// two tasks are the same crawl work iff their canonical bytes are equal.
func (t Task) Canonical() ([]byte, error) {
	raw, err := canonicalMode.Marshal([]any{t.Type, t.Args})
	if err != nil {
		return nil, fmt.Errorf("canonicalize task %s: %w", t, err)
	}
	return raw, nil
}

// Seen tracks every task ever observed within one crawl run.
type Seen struct {
	keys map[string]struct{}
}

// NewSeen returns an empty equivalence set.
func NewSeen() *Seen {
	return &Seen{keys: make(map[string]struct{})}
}

// Add records the task and reports whether it was new.
func (s *Seen) Add(t Task) (bool, error) {
	key, err := t.Canonical()
	if err != nil {
		return false, err
	}
	if _, dup := s.keys[string(key)]; dup {
		return false, nil
	}
	s.keys[string(key)] = struct{}{}
	return true, nil
}

// Len returns how many distinct tasks have been observed.
func (s *Seen) Len() int {
	return len(s.keys)
}

// Queue is a FIFO of pending tasks that drops duplicates on enqueue,
// comparing against every task ever seen in the run rather than just the
// current backlog.
type Queue struct {
	seen    *Seen
	pending []Task
}

// NewQueue returns an empty queue with a fresh equivalence set.
func NewQueue() *Queue {
	return &Queue{seen: NewSeen()}
}

// Push enqueues the task unless an equivalent one was already seen.
// It reports whether the task was accepted.
func (q *Queue) Push(t Task) (bool, error) {
	fresh, err := q.seen.Add(t)
	if err != nil || !fresh {
		return false, err
	}
	q.pending = append(q.pending, t)
	return true, nil
}

// Pop removes and returns the oldest pending task.
func (q *Queue) Pop() (Task, bool) {
	if len(q.pending) == 0 {
		return Task{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.pending)
}
