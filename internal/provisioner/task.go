package provisioner

import (
	"fmt"
	"sync"
	"time"
)

// Op identifies the kind of work a task performs.
type Op string

const (
	OpCreate    Op = "create"
	OpRecycle   Op = "recycle"
	OpBootstrap Op = "bootstrap"
)

// Task is the handle of one in-flight provisioning operation, tagged
// with the server name it targets.
type Task struct {
	Name string
	Op   Op

	err     error
	elapsed time.Duration
	done    chan struct{}
}

func newTask(name string, op Op) *Task {
	return &Task{Name: name, Op: op, done: make(chan struct{})}
}

func (t *Task) run(fn func() error) {
	start := time.Now()
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("panic: %v", r)
		}
		t.elapsed = time.Since(start)
	}()

	t.err = fn()
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Result is the settled outcome of one task.
type Result struct {
	Name    string
	Op      Op
	Err     error
	Elapsed time.Duration
}

// Batch collects the task handles submitted during one cycle. Running
// tasks may append follow-up tasks (bootstrap after create) while the
// batch is being waited on.
type Batch struct {
	mu    sync.Mutex
	tasks []*Task
}

func (b *Batch) add(t *Task) {
	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()
}

// Len returns the number of tasks seen so far.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Wait blocks until every task in the batch has finished, including
// tasks appended while waiting, and returns their results in submission
// order.
func (b *Batch) Wait() []Result {
	var results []Result

	for i := 0; ; i++ {
		b.mu.Lock()
		if i >= len(b.tasks) {
			b.mu.Unlock()
			return results
		}
		t := b.tasks[i]
		b.mu.Unlock()

		err := t.Wait()
		results = append(results, Result{
			Name:    t.Name,
			Op:      t.Op,
			Err:     err,
			Elapsed: t.elapsed,
		})
	}
}
