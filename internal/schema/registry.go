package schema

import "sync"

// DecodeFunc turns serialized bytes back into a payload. A failure is a
// decode error; it must never be swallowed into a zero value.
type DecodeFunc func(b []byte) (Payload, error)

// Registry maps schema identities to decode routines. It is safe for
// concurrent use and may be extended at runtime; registering an id that
// already exists replaces the prior routine (hot schema upgrades).
type Registry struct {
	mu       sync.RWMutex
	decoders map[ID]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: map[ID]DecodeFunc{}}
}

func (r *Registry) Register(id ID, fn DecodeFunc) {
	if !id.Valid() || fn == nil {
		return
	}
	r.mu.Lock()
	r.decoders[id] = fn
	r.mu.Unlock()
}

func (r *Registry) IsRegistered(id ID) bool {
	r.mu.RLock()
	_, ok := r.decoders[id]
	r.mu.RUnlock()
	return ok
}

// Decode dispatches b to the routine registered for id. An unknown id
// reports ok=false with a nil error: senders running a newer schema set
// are skipped, not failed. A registered id with malformed bytes reports
// the decode error.
func (r *Registry) Decode(id ID, b []byte) (p Payload, ok bool, err error) {
	r.mu.RLock()
	fn := r.decoders[id]
	r.mu.RUnlock()
	if fn == nil {
		return nil, false, nil
	}
	p, err = fn(b)
	if err != nil {
		return nil, true, err
	}
	return p, true, nil
}
