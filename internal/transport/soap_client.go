package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/session"
)

// SOAPContentType is sent with every OCPP-S request.
const SOAPContentType = "application/soap+xml; charset=utf-8"

const maxSOAPResponse = 1 << 20

// SOAPClient delivers Central System calls to an OCPP-S station by POSTing
// them to the endpoint the station advertised in its From header. The reply
// travels back on the same exchange and is handed to deliver as a CallResult
// or CallError carrying the request's unique id.
type SOAPClient struct {
	identity string
	address  string
	from     string
	client   *http.Client
	deliver  func(reply *ocpp.Message)

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSOAPClient creates the callback transport of one station. from is the
// Central System's own endpoint, written into the From header when set.
func NewSOAPClient(identity, address, from string, timeout time.Duration, deliver func(reply *ocpp.Message)) *SOAPClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &SOAPClient{
		identity: identity,
		address:  address,
		from:     from,
		client:   &http.Client{Timeout: timeout},
		deliver:  deliver,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send posts a Call in the background. Replies to station calls are written
// on the station's own request and never pass through here.
func (c *SOAPClient) Send(msg *ocpp.Message) error {
	if msg.TypeID != ocpp.Call {
		return ocpp.NewError(ocpp.ProtocolError, "cannot send a %s to a SOAP station outside its request", msg.TypeID)
	}
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx.Err() != nil {
		return ocpp.NewError(ocpp.GenericError, "SOAP transport of %s is closed", c.identity)
	}

	env, err := ocpp.EnvelopeFor(msg, msg.Action, c.identity, ocpp.DialectChargePoint, ocpp.ChargePointNamespace)
	if err != nil {
		return err
	}
	env.Headers.Set("To", c.address)
	if c.from != "" {
		env.Headers.Set("From", c.from)
		env.Headers.Set("ReplyTo", c.from)
	}
	body, err := env.Encode()
	if err != nil {
		return err
	}

	go c.post(ctx, msg, body)
	return nil
}

func (c *SOAPClient) post(ctx context.Context, call *ocpp.Message, body []byte) {
	reply, err := c.exchange(ctx, call, body)
	if err != nil {
		log.WithFields(log.Fields{
			"chargePoint": c.identity,
			"action":      call.Action,
			"uniqueId":    call.UniqueID,
		}).Warnf("SOAP_CLIENT: Call failed: %v", err)
		reply = ocpp.NewCallErrorFor(call, ocpp.RoleCentralSystem, ocpp.NewError(ocpp.GenericError, "%v", err))
	}
	if ctx.Err() != nil {
		return
	}
	c.deliver(reply)
}

func (c *SOAPClient) exchange(ctx context.Context, call *ocpp.Message, body []byte) (*ocpp.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", SOAPContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSOAPResponse))
	if err != nil {
		return nil, err
	}
	env, err := ocpp.DecodeEnvelope(data)
	if err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("station answered HTTP %d", resp.StatusCode)
		}
		return nil, err
	}
	if !env.IsFault() {
		session.RenameFromSOAP(call.Action, env.Values)
	}
	reply, err := env.Message()
	if err != nil {
		return nil, err
	}
	if reply.TypeID == ocpp.Call {
		return nil, fmt.Errorf("station answered %s with a request", call.Action)
	}
	if id := env.Headers.Value("RelatesTo"); id != "" {
		reply.UniqueID = id
	}
	if reply.UniqueID == "" {
		reply.UniqueID = call.UniqueID
	}
	return reply, nil
}

// Close abandons in-flight posts. Their calls are left to expire.
func (c *SOAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	return nil
}

// RemoteAddr is the station's SOAP endpoint.
func (c *SOAPClient) RemoteAddr() string {
	return c.address
}
