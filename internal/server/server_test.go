package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(Config{HeartbeatInterval: 120, CallTimeout: 2 * time.Second})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

// station is a websocket charge point answering every Call with
// {"status":"Accepted"} and forwarding every other message to replies.
type station struct {
	conn    *transport.Conn
	calls   chan *ocpp.Message
	replies chan *ocpp.Message
}

func dialStation(t *testing.T, srv *httptest.Server, identity string) *station {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ocpp", identity)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	st := &station{conn: conn, calls: make(chan *ocpp.Message, 8), replies: make(chan *ocpp.Message, 8)}
	go func() {
		_ = conn.ReadLoop(func(data []byte) {
			msg, _, err := ocpp.Decode(data)
			if err != nil {
				return
			}
			if msg.TypeID == ocpp.Call {
				st.calls <- msg
				_ = conn.Send(&ocpp.Message{TypeID: ocpp.CallResult, UniqueID: msg.UniqueID, Payload: json.RawMessage(`{"status":"Accepted"}`)})
				return
			}
			st.replies <- msg
		})
	}()
	return st
}

func (st *station) await(t *testing.T) *ocpp.Message {
	t.Helper()
	select {
	case msg := <-st.replies:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no reply from Central System")
		return nil
	}
}

func TestServer_WebsocketBootNotification(t *testing.T) {
	s, srv := newTestServer(t)
	st := dialStation(t, srv, "CP-1")

	boot, err := ocpp.NewCall("BootNotification", core.BootNotificationRequest{ChargePointVendor: "Acme", ChargePointModel: "X1"})
	require.NoError(t, err)
	require.NoError(t, st.conn.Send(boot))

	reply := st.await(t)
	assert.Equal(t, ocpp.CallResult, reply.TypeID)
	assert.Equal(t, boot.UniqueID, reply.UniqueID)
	var conf core.BootNotificationConfirmation
	require.NoError(t, reply.DecodePayload(&conf))
	assert.Equal(t, core.RegistrationStatusAccepted, conf.Status)
	assert.Equal(t, 120, conf.Interval)

	cp, ok := s.Registry().Get("CP-1")
	require.True(t, ok)
	assert.True(t, cp.Connected())
	assert.Equal(t, core.RegistrationStatusAccepted, cp.Registration())
	assert.Equal(t, ocpp.ProtocolJSON, cp.Protocol())
}

func TestServer_MalformedFrameIsAnswered(t *testing.T) {
	_, srv := newTestServer(t)
	st := dialStation(t, srv, "CP-1")

	require.NoError(t, st.conn.Send(&ocpp.Message{TypeID: ocpp.Call, UniqueID: "u-9", Action: "NoSuchAction", Payload: json.RawMessage(`{}`)}))

	reply := st.await(t)
	assert.Equal(t, ocpp.CallError, reply.TypeID)
	assert.Equal(t, "u-9", reply.UniqueID)
	assert.Equal(t, ocpp.NotSupported, reply.ErrorCode)
}

func TestServer_OperationThroughAPI(t *testing.T) {
	s, srv := newTestServer(t)
	st := dialStation(t, srv, "CP-1")

	require.Eventually(t, func() bool {
		cp, ok := s.Registry().Get("CP-1")
		return ok && cp.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/v1/chargepoints/CP-1/operations/Reset", "application/json",
		strings.NewReader(`{"payload":{"type":"Soft"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "Accepted", body.Data.Status)

	select {
	case call := <-st.calls:
		assert.Equal(t, "Reset", call.Action)
		assert.JSONEq(t, `{"type":"Soft"}`, string(call.Payload))
	default:
		t.Fatal("station never received the call")
	}

	cp, _ := s.Registry().Get("CP-1")
	assert.Equal(t, 0, cp.Pending.Len())
}

func TestServer_OperationErrors(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown charge point", "/api/v1/chargepoints/CP-404/operations/Reset", `{"payload":{"type":"Soft"}}`, http.StatusNotFound},
		{"invalid payload", "/api/v1/chargepoints/CP-404/operations/Reset", `{"payload":{"type":5}}`, http.StatusBadRequest},
		{"station operation", "/api/v1/chargepoints/CP-404/operations/Heartbeat", `{"payload":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func soapBoot(t *testing.T, identity string) []byte {
	t.Helper()
	call, err := ocpp.NewCall("BootNotification", core.BootNotificationRequest{ChargePointVendor: "Acme", ChargePointModel: "S1"})
	require.NoError(t, err)
	env, err := ocpp.EnvelopeFor(call, "BootNotification", identity, ocpp.DialectCentralSystem, ocpp.CentralSystemNamespace)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func TestServer_SOAPBootNotification(t *testing.T) {
	s, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/soap", transport.SOAPContentType, bytes.NewReader(soapBoot(t, "CP-S")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, transport.SOAPContentType, resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	env, err := ocpp.DecodeEnvelope(data)
	require.NoError(t, err)
	assert.False(t, env.IsFault())
	assert.Equal(t, "Accepted", env.Values.Value("status"))
	assert.Equal(t, "120", env.Values.Value("heartbeatInterval"))
	assert.Equal(t, "CP-S", env.Headers.Value("chargeBoxIdentity"))

	cp, ok := s.Registry().Get("CP-S")
	require.True(t, ok)
	assert.Equal(t, ocpp.ProtocolSOAP, cp.Protocol())
	assert.Equal(t, core.RegistrationStatusAccepted, cp.Registration())
	assert.False(t, cp.Connected())

	// Without a From address there is no callback endpoint.
	resp2, err := http.Post(srv.URL+"/api/v1/chargepoints/CP-S/operations/ClearCache", "application/json", strings.NewReader(`{"payload":{}}`))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestServer_SOAPRejectsBadRequests(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"malformed", []byte(`<Envelope><Body>`)},
		{"missing identity", soapBoot(t, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/soap", transport.SOAPContentType, bytes.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			env, err := ocpp.DecodeEnvelope(data)
			require.NoError(t, err)
			require.True(t, env.IsFault())
			assert.Equal(t, ocpp.ProtocolError, env.FaultError().Code)
		})
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	_, srv := newTestServer(t)
	st := dialStation(t, srv, "CP-1")

	hb, err := ocpp.NewCall("Heartbeat", core.HeartbeatRequest{})
	require.NoError(t, err)
	require.NoError(t, st.conn.Send(hb))
	st.await(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(data), `ocpp_messages_received_total{action="Heartbeat",protocol="JSON",type="Call"} 1`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
