package transport

import (
	"context"
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
)

func TestWebsocket_RoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	identities := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		identities <- strings.TrimPrefix(r.URL.Path, "/ocpp/")
		_ = conn.ReadLoop(func(data []byte) {
			received <- data
			reply := &ocpp.Message{TypeID: ocpp.CallResult, UniqueID: "1", Payload: []byte(`{"currentTime":"2024-01-01T00:00:00Z"}`)}
			_ = conn.Send(reply)
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ocpp/", "CP-1")
	require.NoError(t, err)
	defer conn.Close()

	replies := make(chan []byte, 1)
	go func() { _ = conn.ReadLoop(func(data []byte) { replies <- data }) }()

	require.NoError(t, conn.Send(&ocpp.Message{TypeID: ocpp.Call, UniqueID: "1", Action: "Heartbeat", Payload: []byte(`{}`)}))

	select {
	case id := <-identities:
		assert.Equal(t, "CP-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}
	select {
	case data := <-received:
		assert.JSONEq(t, `[2,"1","Heartbeat",{}]`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the call")
	}
	select {
	case data := <-replies:
		msg, _, err := ocpp.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, ocpp.CallResult, msg.TypeID)
		assert.Equal(t, "1", msg.UniqueID)
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the reply")
	}
}

func TestWebsocket_ReadLoopReturnsAfterLocalClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		_ = conn.ReadLoop(func([]byte) {})
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "CP-2")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(func([]byte) {}) }()
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop did not return")
	}
	assert.NoError(t, conn.Close())
}

func TestUpgrade_RejectsForeignSubprotocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = Upgrade(w, r)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Protocol", "ocpp2.0.1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func soapStation(t *testing.T, answer func(env *ocpp.Envelope) *ocpp.Envelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		env, err := ocpp.DecodeEnvelope(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reply := answer(env)
		data, _ := reply.Encode()
		w.Header().Set("Content-Type", SOAPContentType)
		if reply.IsFault() {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_, _ = w.Write(data)
	}))
}

func awaitDelivery(t *testing.T, ch <-chan *ocpp.Message) *ocpp.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no reply delivered")
		return nil
	}
}

func TestSOAPClient_CallResult(t *testing.T) {
	requests := make(chan *ocpp.Envelope, 1)
	srv := soapStation(t, func(env *ocpp.Envelope) *ocpp.Envelope {
		requests <- env
		reply := ocpp.PrepareEnvelopeResponse(env)
		reply.Values.Add("status", "Accepted")
		return reply
	})
	defer srv.Close()

	delivered := make(chan *ocpp.Message, 1)
	client := NewSOAPClient("CP-S", srv.URL, "http://central.example/soap", time.Second, func(m *ocpp.Message) { delivered <- m })
	defer client.Close()
	assert.Equal(t, srv.URL, client.RemoteAddr())

	call, err := ocpp.NewCall("Reset", core.ResetRequest{Type: core.ResetTypeSoft})
	require.NoError(t, err)
	require.NoError(t, client.Send(call))

	env := <-requests
	assert.Equal(t, "/Reset", env.Headers.Value("Action"))
	assert.Equal(t, "CP-S", env.Headers.Value("chargeBoxIdentity"))
	assert.Equal(t, call.UniqueID, env.Headers.Value("MessageID"))
	assert.Equal(t, "Soft", env.Values.Value("type"))

	reply := awaitDelivery(t, delivered)
	assert.Equal(t, ocpp.CallResult, reply.TypeID)
	assert.Equal(t, call.UniqueID, reply.UniqueID)
	var conf core.ResetConfirmation
	require.NoError(t, reply.DecodePayload(&conf))
	assert.Equal(t, core.ResetStatusAccepted, conf.Status)
}

func TestSOAPClient_FaultBecomesCallError(t *testing.T) {
	srv := soapStation(t, func(env *ocpp.Envelope) *ocpp.Envelope {
		return ocpp.NewFault(env, ocpp.NewError(ocpp.NotSupported, "no such operation"))
	})
	defer srv.Close()

	delivered := make(chan *ocpp.Message, 1)
	client := NewSOAPClient("CP-S", srv.URL, "", time.Second, func(m *ocpp.Message) { delivered <- m })
	defer client.Close()

	call, err := ocpp.NewCall("UnlockConnector", core.UnlockConnectorRequest{ConnectorId: 1})
	require.NoError(t, err)
	require.NoError(t, client.Send(call))

	reply := awaitDelivery(t, delivered)
	assert.Equal(t, ocpp.CallError, reply.TypeID)
	assert.Equal(t, call.UniqueID, reply.UniqueID)
	assert.Equal(t, ocpp.NotSupported, reply.ErrorCode)
	assert.Equal(t, "no such operation", reply.ErrorDescription)
}

func TestSOAPClient_UnreachableStation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	address := srv.URL
	srv.Close()

	delivered := make(chan *ocpp.Message, 1)
	client := NewSOAPClient("CP-S", address, "", time.Second, func(m *ocpp.Message) { delivered <- m })
	defer client.Close()

	call, err := ocpp.NewCall("ClearCache", core.ClearCacheRequest{})
	require.NoError(t, err)
	require.NoError(t, client.Send(call))

	reply := awaitDelivery(t, delivered)
	assert.Equal(t, ocpp.CallError, reply.TypeID)
	assert.Equal(t, ocpp.GenericError, reply.ErrorCode)
	assert.Equal(t, call.UniqueID, reply.UniqueID)
}

func TestSOAPClient_RejectsNonCalls(t *testing.T) {
	client := NewSOAPClient("CP-S", "http://127.0.0.1:1", "", time.Second, func(*ocpp.Message) {})
	err := client.Send(&ocpp.Message{TypeID: ocpp.CallResult, UniqueID: "1", Payload: []byte(`{}`)})
	assert.Equal(t, ocpp.ProtocolError, ocpp.CodeOf(err))

	require.NoError(t, client.Close())
	call, err := ocpp.NewCall("ClearCache", core.ClearCacheRequest{})
	require.NoError(t, err)
	assert.Error(t, client.Send(call))
}
