package chargepoint

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
)

// Factory creates the charge point for an identity seen for the first time.
type Factory func(identity string, protocol ocpp.Protocol) *ChargePoint

// Registry maps station identity to its ChargePoint. A reconnecting station
// is rebound to the existing object; the object is destroyed only when the
// last session referencing it has closed.
type Registry struct {
	mu           sync.Mutex
	chargePoints map[string]*ChargePoint
	factory      Factory
	onRemove     func(cp *ChargePoint)
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		chargePoints: make(map[string]*ChargePoint),
		factory:      factory,
	}
}

// OnRemove installs a hook run after a charge point is destroyed.
func (r *Registry) OnRemove(fn func(cp *ChargePoint)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

// Attach binds transport t to identity, creating the charge point if needed.
// An already known charge point keeps its state, its previous transport is
// closed and reattached is true.
func (r *Registry) Attach(identity string, protocol ocpp.Protocol, t Transport) (cp *ChargePoint, reattached bool) {
	r.mu.Lock()
	cp, reattached = r.chargePoints[identity]
	if !reattached {
		cp = r.factory(identity, protocol)
		r.chargePoints[identity] = cp
	}
	cp.mu.Lock()
	cp.updateCount++
	count := cp.updateCount
	cp.mu.Unlock()
	old := cp.Attach(t)
	r.mu.Unlock()

	if old != nil && old != t {
		log.Printf("REGISTRY: %s reconnected from %s, closing previous transport", identity, t.RemoteAddr())
		if err := old.Close(); err != nil {
			log.Printf("REGISTRY: Error closing previous transport of %s: %v", identity, err)
		}
	}
	log.WithFields(log.Fields{"chargePoint": identity, "updateCount": count}).Info("REGISTRY: Charge point attached")
	return cp, reattached
}

// Register returns the charge point for identity without taking a session
// reference. SOAP stations have no long lived session and are registered
// this way.
func (r *Registry) Register(identity string, protocol ocpp.Protocol) *ChargePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.chargePoints[identity]
	if !ok {
		cp = r.factory(identity, protocol)
		r.chargePoints[identity] = cp
	}
	return cp
}

// Release drops the session reference held by transport t. When it was the
// last one the charge point is removed and its pending calls are failed.
func (r *Registry) Release(identity string, t Transport) bool {
	r.mu.Lock()
	cp, ok := r.chargePoints[identity]
	if !ok {
		r.mu.Unlock()
		return false
	}
	cp.Detach(t)
	cp.mu.Lock()
	cp.updateCount--
	remaining := cp.updateCount
	cp.mu.Unlock()

	destroyed := remaining <= 0
	if destroyed {
		delete(r.chargePoints, identity)
	}
	onRemove := r.onRemove
	r.mu.Unlock()

	if !destroyed {
		log.Printf("REGISTRY: %s session closed, %d session(s) still attached", identity, remaining)
		return false
	}
	if n := cp.Pending.FailAll(cp, "session closed"); n > 0 {
		log.Printf("REGISTRY: Failed %d pending call(s) of %s", n, identity)
	}
	log.Printf("REGISTRY: Charge point %s removed", identity)
	if onRemove != nil {
		onRemove(cp)
	}
	return true
}

// UpdateCount returns the number of sessions attached to identity.
func (r *Registry) UpdateCount(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.chargePoints[identity]
	if !ok {
		return 0
	}
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.updateCount
}

func (r *Registry) Get(identity string) (*ChargePoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.chargePoints[identity]
	return cp, ok
}

// List returns every charge point sorted by identity.
func (r *Registry) List() []*ChargePoint {
	r.mu.Lock()
	result := make([]*ChargePoint, 0, len(r.chargePoints))
	for _, cp := range r.chargePoints {
		result = append(result, cp)
	}
	r.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].identity < result[j].identity })
	return result
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chargePoints)
}
