// Package commands accepts operator commands over NATS request/reply and
// runs them through the operation service.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/services"
)

const DefaultSubject = "ocpp.commands"

// Executor runs one operation against a charge point.
// *services.OperationService implements it.
type Executor interface {
	Execute(ctx context.Context, chargePointID, action string, payload json.RawMessage) (*services.OperationResult, error)
}

// Command is the request body published on the command subject.
type Command struct {
	Action        string          `json:"action" validate:"required"`
	ChargePointID string          `json:"chargePointId" validate:"required"`
	Payload       json.RawMessage `json:"payload"`
}

// Response is the reply body. Status follows the HTTP API.
type Response struct {
	Status int                       `json:"status"`
	Result *services.OperationResult `json:"result,omitempty"`
	Err    *Error                    `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Listener subscribes to a NATS subject and answers each command with the
// operation outcome.
type Listener struct {
	executor Executor
	subject  string
	timeout  time.Duration
	validate *validator.Validate

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewListener creates a listener. timeout bounds a whole command including
// the wait for the charge point.
func NewListener(executor Executor, subject string, timeout time.Duration) *Listener {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Listener{
		executor: executor,
		subject:  subject,
		timeout:  timeout,
		validate: validator.New(),
	}
}

// Start connects to url and subscribes.
func (l *Listener) Start(url string) error {
	conn, err := nats.Connect(url, nats.Name("ocpp-engine"), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	sub, err := conn.Subscribe(l.subject, func(m *nats.Msg) {
		go l.respond(m)
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", l.subject, err)
	}
	l.conn = conn
	l.sub = sub
	log.Printf("COMMANDS: Listening on NATS subject %s", l.subject)
	return nil
}

// Stop unsubscribes and closes the connection.
func (l *Listener) Stop() {
	if l.sub != nil {
		if err := l.sub.Unsubscribe(); err != nil {
			log.Printf("COMMANDS: Error unsubscribing: %v", err)
		}
	}
	if l.conn != nil {
		l.conn.Close()
		log.Info("COMMANDS: NATS connection closed")
	}
}

func (l *Listener) respond(m *nats.Msg) {
	ctx := context.Background()
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	body, err := json.Marshal(l.Handle(ctx, m.Data))
	if err != nil {
		log.Printf("COMMANDS: Failed to encode response: %v", err)
		return
	}
	if err := m.Respond(body); err != nil {
		log.Printf("COMMANDS: Failed to respond on %s: %v", m.Reply, err)
	}
}

// Handle decodes and runs one command.
func (l *Listener) Handle(ctx context.Context, data []byte) Response {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return failure(ocpp.NewError(ocpp.ValidationError, "invalid command: %v", err))
	}
	if err := l.validate.Struct(&cmd); err != nil {
		return failure(ocpp.NewError(ocpp.ValidationError, "invalid command: %v", err))
	}

	log.WithFields(log.Fields{"chargePoint": cmd.ChargePointID, "action": cmd.Action}).Info("COMMANDS: Processing command")
	result, err := l.executor.Execute(ctx, cmd.ChargePointID, cmd.Action, cmd.Payload)
	if err != nil {
		return failure(err)
	}
	return Response{Status: services.StatusFor(result, nil), Result: result}
}

func failure(err error) Response {
	status := services.StatusFor(nil, err)
	code := string(ocpp.CodeOf(err))
	switch status {
	case http.StatusNotFound:
		code = "NotFound"
	case http.StatusRequestTimeout:
		code = "Timeout"
	}
	return Response{Status: status, Err: &Error{Code: code, Message: err.Error()}}
}
