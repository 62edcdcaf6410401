package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
)

const (
	// DefaultCallTimeout bounds how long an outbound call waits for its reply.
	DefaultCallTimeout = 30 * time.Second
)

var (
	ErrNotConnected = errors.New("charge point is not connected")
	ErrTimeout      = errors.New("timed out waiting for reply")
)

// Session is the sending side of a charge point as seen by the manager.
type Session interface {
	Identity() string
	Connected() bool
	SendMessage(msg *ocpp.Message) error
}

// Continuation resumes the work that issued a Call once its CallResult or
// CallError is known.
type Continuation func(reply *ocpp.Message, s Session)

// PendingRequest is an outbound Call awaiting its reply
type PendingRequest struct {
	UniqueID  string
	Action    string
	ClientID  string
	Timestamp time.Time
	Deadline  time.Time

	continuation Continuation
}

// Manager correlates replies with the Calls of one charge point session
type Manager struct {
	pendingRequests map[string]*PendingRequest
	requestsMutex   sync.Mutex
	timeout         time.Duration
	now             func() time.Time
}

// NewManager creates a correlation manager whose entries expire after timeout.
// A zero timeout selects DefaultCallTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Manager{
		pendingRequests: make(map[string]*PendingRequest),
		timeout:         timeout,
		now:             time.Now,
	}
}

// SetClock replaces the time source used for deadlines.
func (m *Manager) SetClock(now func() time.Time) {
	m.requestsMutex.Lock()
	defer m.requestsMutex.Unlock()
	m.now = now
}

// Send registers msg and transmits it on s. It is a no-op returning
// ErrNotConnected when the session has no live transport.
func (m *Manager) Send(s Session, msg *ocpp.Message, cont Continuation) (string, error) {
	if !s.Connected() {
		log.Printf("PENDING_REQUEST: %s not sent, %s is not connected", msg.Action, s.Identity())
		return "", ErrNotConnected
	}

	m.requestsMutex.Lock()
	now := m.now()
	m.pendingRequests[msg.UniqueID] = &PendingRequest{
		UniqueID:     msg.UniqueID,
		Action:       msg.Action,
		ClientID:     s.Identity(),
		Timestamp:    now,
		Deadline:     now.Add(m.timeout),
		continuation: cont,
	}
	m.requestsMutex.Unlock()

	if err := s.SendMessage(msg); err != nil {
		m.remove(msg.UniqueID)
		return "", err
	}

	log.WithFields(log.Fields{
		"chargePoint": s.Identity(),
		"uniqueId":    msg.UniqueID,
		"action":      msg.Action,
	}).Debug("PENDING_REQUEST: Added")
	return msg.UniqueID, nil
}

// Resolve hands reply to the continuation registered under uniqueID. The
// entry is removed before the continuation runs, so a repeated reply finds
// nothing and is dropped.
func (m *Manager) Resolve(uniqueID string, reply *ocpp.Message, s Session) bool {
	pending := m.remove(uniqueID)
	if pending == nil {
		log.Printf("PENDING_REQUEST: No pending request found for %s on %s, reply dropped", uniqueID, s.Identity())
		return false
	}
	if reply.TypeID == ocpp.CallError {
		log.Printf("PENDING_REQUEST: %s %s failed: %s %s", pending.Action, uniqueID, reply.ErrorCode, reply.ErrorDescription)
	}
	if pending.continuation != nil {
		pending.continuation(reply, s)
	}
	return true
}

// Action returns the action of the pending call uniqueID.
func (m *Manager) Action(uniqueID string) (string, bool) {
	m.requestsMutex.Lock()
	defer m.requestsMutex.Unlock()
	pending, ok := m.pendingRequests[uniqueID]
	if !ok {
		return "", false
	}
	return pending.Action, true
}

// CleanupExpiredRequests fails every entry whose deadline has passed with a
// GenericError timeout reply. It returns the number of expired entries.
func (m *Manager) CleanupExpiredRequests(s Session) int {
	m.requestsMutex.Lock()
	now := m.now()
	var expired []*PendingRequest
	for requestID, pending := range m.pendingRequests {
		if now.After(pending.Deadline) {
			expired = append(expired, pending)
			delete(m.pendingRequests, requestID)
		}
	}
	m.requestsMutex.Unlock()

	for _, pending := range expired {
		log.Printf("PENDING_REQUEST: Cleaning up expired %s request %s", pending.Action, pending.UniqueID)
		m.fail(pending, s, "timeout")
	}
	return len(expired)
}

// FailAll fails every pending entry with reason. Used when the charge point
// goes away for good.
func (m *Manager) FailAll(s Session, reason string) int {
	m.requestsMutex.Lock()
	all := make([]*PendingRequest, 0, len(m.pendingRequests))
	for _, pending := range m.pendingRequests {
		all = append(all, pending)
	}
	m.pendingRequests = make(map[string]*PendingRequest)
	m.requestsMutex.Unlock()

	for _, pending := range all {
		m.fail(pending, s, reason)
	}
	return len(all)
}

// Len returns the number of calls awaiting a reply.
func (m *Manager) Len() int {
	m.requestsMutex.Lock()
	defer m.requestsMutex.Unlock()
	return len(m.pendingRequests)
}

// Pending returns a snapshot of the calls awaiting a reply.
func (m *Manager) Pending() []PendingRequest {
	m.requestsMutex.Lock()
	defer m.requestsMutex.Unlock()
	result := make([]PendingRequest, 0, len(m.pendingRequests))
	for _, pending := range m.pendingRequests {
		p := *pending
		p.continuation = nil
		result = append(result, p)
	}
	return result
}

func (m *Manager) fail(pending *PendingRequest, s Session, reason string) {
	if pending.continuation == nil {
		return
	}
	pending.continuation(&ocpp.Message{
		TypeID:           ocpp.CallError,
		UniqueID:         pending.UniqueID,
		ErrorCode:        ocpp.GenericError,
		ErrorDescription: reason,
		Payload:          []byte(`{}`),
	}, s)
}

func (m *Manager) remove(uniqueID string) *PendingRequest {
	m.requestsMutex.Lock()
	defer m.requestsMutex.Unlock()
	pending, ok := m.pendingRequests[uniqueID]
	if !ok {
		return nil
	}
	delete(m.pendingRequests, uniqueID)
	return pending
}

// Await returns a continuation that delivers the reply on the returned
// channel, for callers that block on the outcome.
func Await() (Continuation, <-chan *ocpp.Message) {
	replies := make(chan *ocpp.Message, 1)
	return func(reply *ocpp.Message, _ Session) {
		select {
		case replies <- reply:
		default:
		}
	}, replies
}

// Wait blocks until a reply arrives, ctx is done or timeout elapses.
func Wait(ctx context.Context, replies <-chan *ocpp.Message, timeout time.Duration) (*ocpp.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
