package signal

import "sync"

// Registry associates per-task pending/blocked Masks and per-thread-group
// disposition Tables by id. Kept separate from proc.Task/proc.ThreadGroup
// (rather than as fields on those structs) because this package already
// imports proc for the Killable assertion in deliver.go; a field of type
// *Mask on proc.Task would close that into an import cycle. The syscall
// layer is the one place that needs both a task and its signal state
// together, and it looks them up here by id instead.
type Registry struct {
	mu     sync.Mutex
	masks  map[int]*Mask
	tables map[int]*Table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{masks: map[int]*Mask{}, tables: map[int]*Table{}}
}

// RegisterTask associates a pending/blocked Mask with tid.
func (r *Registry) RegisterTask(tid int, m *Mask) {
	r.mu.Lock()
	r.masks[tid] = m
	r.mu.Unlock()
}

// RegisterGroup associates a disposition Table with pid.
func (r *Registry) RegisterGroup(pid int, t *Table) {
	r.mu.Lock()
	r.tables[pid] = t
	r.mu.Unlock()
}

// Mask returns tid's registered mask.
func (r *Registry) Mask(tid int) (*Mask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.masks[tid]
	return m, ok
}

// Table returns pid's registered disposition table.
func (r *Registry) Table(pid int) (*Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[pid]
	return t, ok
}

// ForgetTask drops tid's mask, called once the task has exited.
func (r *Registry) ForgetTask(tid int) {
	r.mu.Lock()
	delete(r.masks, tid)
	r.mu.Unlock()
}

// ForgetGroup drops pid's disposition table, called once its last thread
// has exited.
func (r *Registry) ForgetGroup(pid int) {
	r.mu.Lock()
	delete(r.tables, pid)
	r.mu.Unlock()
}
