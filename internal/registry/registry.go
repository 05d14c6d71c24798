package registry

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/arkwarden/internal/apperr"
)

// Console describes how to reach an instance's remote console.
type Console struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     uint16 `json:"port" mapstructure:"port"`
	Password string `json:"-" mapstructure:"password"`
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
}

// Address returns host:port.
func (c Console) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Record is the runtime state of one managed instance.
type Record struct {
	ID          string    `json:"id"`
	PID         int       `json:"pid"`
	Console     Console   `json:"console"`
	InstallPath string    `json:"install_path"`
	Executable  string    `json:"executable"`
	LogPath     string    `json:"log_path"`
	StartedAt   time.Time `json:"started_at"`

	// Ctx is cancelled together with Cancel; background tasks of the
	// instance select on it.
	Ctx    context.Context    `json:"-"`
	Cancel context.CancelFunc `json:"-"`
}

// Registry maps instance ids to their runtime records. A single mutex guards
// the map and is never held across I/O.
type Registry struct {
	mu      sync.Mutex
	records map[string]Record
}

func New() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Register inserts rec under id. It fails with apperr.ErrAlreadyRunning when a
// record already exists and leaves the existing record untouched.
func (r *Registry) Register(id string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; ok {
		return apperr.ErrAlreadyRunning
	}
	rec.ID = id
	r.records[id] = rec
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Remove deletes and returns the record for id.
func (r *Registry) Remove(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	return rec, ok
}

// RemoveIfPID deletes the record for id only when it still belongs to pid.
// The exit watcher uses it so that a stale watcher never removes a newer run.
func (r *Registry) RemoveIfPID(id string, pid int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.PID != pid {
		return Record{}, false
	}
	delete(r.records, id)
	return rec, true
}

// List returns a snapshot of all records sorted by id.
func (r *Registry) List() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
