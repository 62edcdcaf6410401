package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/ocpp"
)

type fakeSession struct {
	connected bool
	sent      []*ocpp.Message
	sendErr   error
}

func (f *fakeSession) Identity() string { return "CP-1" }
func (f *fakeSession) Connected() bool  { return f.connected }
func (f *fakeSession) SendMessage(msg *ocpp.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newCall(t *testing.T, action string) *ocpp.Message {
	msg, err := ocpp.NewCall(action, nil)
	require.NoError(t, err)
	return msg
}

func TestManager_ResolveAtMostOnce(t *testing.T) {
	m := NewManager(time.Minute)
	s := &fakeSession{connected: true}
	call := newCall(t, "Heartbeat")

	calls := 0
	id, err := m.Send(s, call, func(reply *ocpp.Message, _ Session) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, call.UniqueID, id)
	require.Len(t, s.sent, 1)

	reply := &ocpp.Message{TypeID: ocpp.CallResult, UniqueID: id, Payload: []byte(`{}`)}
	assert.True(t, m.Resolve(id, reply, s))
	assert.False(t, m.Resolve(id, reply, s))
	assert.Equal(t, 1, calls)
	assert.Zero(t, m.Len())
}

func TestManager_SendWhenDisconnected(t *testing.T) {
	m := NewManager(time.Minute)
	s := &fakeSession{connected: false}

	id, err := m.Send(s, newCall(t, "Heartbeat"), nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, id)
	assert.Empty(t, s.sent)
	assert.Zero(t, m.Len())
}

func TestManager_SendFailureDropsEntry(t *testing.T) {
	m := NewManager(time.Minute)
	s := &fakeSession{connected: true, sendErr: errors.New("broken pipe")}

	_, err := m.Send(s, newCall(t, "Heartbeat"), nil)
	assert.Error(t, err)
	assert.Zero(t, m.Len())
}

func TestManager_ExpiredRequestsFailWithTimeout(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(10 * time.Second)
	m.SetClock(func() time.Time { return now })
	s := &fakeSession{connected: true}

	var got *ocpp.Message
	id, err := m.Send(s, newCall(t, "Authorize"), func(reply *ocpp.Message, _ Session) { got = reply })
	require.NoError(t, err)

	assert.Zero(t, m.CleanupExpiredRequests(s))
	now = now.Add(11 * time.Second)
	assert.Equal(t, 1, m.CleanupExpiredRequests(s))

	require.NotNil(t, got)
	assert.Equal(t, ocpp.CallError, got.TypeID)
	assert.Equal(t, id, got.UniqueID)
	assert.Equal(t, ocpp.GenericError, got.ErrorCode)
	assert.Equal(t, "timeout", got.ErrorDescription)

	// a late reply is dropped
	assert.False(t, m.Resolve(id, &ocpp.Message{TypeID: ocpp.CallResult, UniqueID: id}, s))
}

func TestManager_FailAll(t *testing.T) {
	m := NewManager(time.Minute)
	s := &fakeSession{connected: true}

	var reasons []string
	for i := 0; i < 3; i++ {
		_, err := m.Send(s, newCall(t, "Heartbeat"), func(reply *ocpp.Message, _ Session) {
			reasons = append(reasons, reply.ErrorDescription)
		})
		require.NoError(t, err)
	}
	action, ok := m.Action(s.sent[0].UniqueID)
	assert.True(t, ok)
	assert.Equal(t, "Heartbeat", action)

	assert.Equal(t, 3, m.FailAll(s, "session closed"))
	assert.Equal(t, []string{"session closed", "session closed", "session closed"}, reasons)
	assert.Zero(t, m.Len())
}

func TestAwaitAndWait(t *testing.T) {
	cont, replies := Await()
	reply := &ocpp.Message{TypeID: ocpp.CallResult, UniqueID: "u"}
	cont(reply, nil)
	cont(reply, nil)

	got, err := Wait(context.Background(), replies, time.Second)
	require.NoError(t, err)
	assert.Same(t, reply, got)

	_, err = Wait(context.Background(), replies, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
