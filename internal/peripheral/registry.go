package peripheral

// Registry maps peripheral id to its last reported record. It is owned by a
// Session and only touched from the session's inbox, so it has no lock.
type Registry struct {
	peripherals map[string]PeripheralRecord
}

func NewRegistry() *Registry {
	return &Registry{peripherals: make(map[string]PeripheralRecord)}
}

// Put inserts rec, replacing any earlier record with the same id.
func (r *Registry) Put(rec PeripheralRecord) {
	r.peripherals[rec.ID] = rec
}

func (r *Registry) Get(id string) (PeripheralRecord, bool) {
	rec, ok := r.peripherals[id]
	return rec, ok
}

func (r *Registry) Len() int {
	return len(r.peripherals)
}

// Clear drops every record.
func (r *Registry) Clear() {
	r.peripherals = make(map[string]PeripheralRecord)
}

// Snapshot returns a copy safe to hand to event subscribers.
func (r *Registry) Snapshot() map[string]PeripheralRecord {
	out := make(map[string]PeripheralRecord, len(r.peripherals))
	for id, rec := range r.peripherals {
		out[id] = rec
	}
	return out
}
