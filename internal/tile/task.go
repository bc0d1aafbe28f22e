package tile

import (
	"sync"

	"github.com/google/uuid"
)

// Task is the request/response envelope passed along a provider chain.
// It is shared between goroutines: the chain hands it to executor workers and
// downstream providers, so all mutable state is guarded.
type Task struct {
	ID      uuid.UUID
	Address Address

	mu           sync.Mutex
	source       int
	offline      bool
	data         []byte
	needsLoading bool
}

// Callback receives a task once it has data or has definitively none.
// It may run on a goroutine owned by the chain.
type Callback func(*Task)

func NewTask(addr Address) *Task {
	return &Task{
		ID:      uuid.New(),
		Address: addr,
	}
}

// Source is the chain level that should currently handle the task.
func (t *Task) Source() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.source
}

func (t *Task) SetSource(level int) {
	t.mu.Lock()
	t.source = level
	t.mu.Unlock()
}

// Offline marks that only locally persisted data may satisfy the task.
func (t *Task) Offline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offline
}

func (t *Task) SetOffline(offline bool) {
	t.mu.Lock()
	t.offline = offline
	t.mu.Unlock()
}

func (t *Task) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

func (t *Task) SetData(data []byte) {
	t.mu.Lock()
	t.data = data
	t.mu.Unlock()
}

func (t *Task) HasData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data) > 0
}

// NeedsLoading reports that no provider could serve the task now and it
// should be requested again on a later refresh pass.
func (t *Task) NeedsLoading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.needsLoading
}

func (t *Task) SetNeedsLoading(v bool) {
	t.mu.Lock()
	t.needsLoading = v
	t.mu.Unlock()
}
