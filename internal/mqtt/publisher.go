package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
)

// PublisherConfig holds the MQTT publisher configuration
type PublisherConfig struct {
	BrokerHost            string
	BrokerPort            int
	Username              string
	Password              string
	ClientID              string
	QoS                   byte
	Retained              bool
	BusinessEventsEnabled bool
	FramesEnabled         bool
}

// Publisher mirrors OCPP traffic and business events to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	config PublisherConfig
}

// FrameMessage is the MQTT payload mirroring one OCPP message.
type FrameMessage struct {
	Timestamp        time.Time       `json:"timestamp"`
	ClientID         string          `json:"clientId"`
	Direction        string          `json:"direction"`
	MessageType      string          `json:"messageType"`
	UniqueID         string          `json:"uniqueId"`
	Action           string          `json:"action,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	ErrorDescription string          `json:"errorDescription,omitempty"`
	Payload          json.RawMessage `json:"payload"`
}

// BusinessEvent is the MQTT payload of business-level events
type BusinessEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	ClientID  string      `json:"clientId"`
	EventType string      `json:"eventType"`
	EventID   string      `json:"eventId"`
	Payload   interface{} `json:"payload"`
}

// NewPublisher creates a new MQTT publisher instance
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	if config.BrokerHost == "" {
		return nil, fmt.Errorf("MQTT broker host is required")
	}
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", config.BrokerHost, config.BrokerPort)
	opts.AddBroker(brokerURL)
	opts.SetClientID(config.ClientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(30 * time.Second)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("MQTT: Connected to broker at %s", brokerURL)
	})

	return &Publisher{
		client: mqtt.NewClient(opts),
		config: config,
	}, nil
}

// Connect establishes connection to the MQTT broker
func (p *Publisher) Connect() error {
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection to the MQTT broker
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Println("MQTT: Client disconnected")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

// PublishFrame mirrors one inbound or outbound OCPP message asynchronously.
func (p *Publisher) PublishFrame(clientID, direction string, msg *ocpp.Message) {
	if !p.config.FramesEnabled {
		return
	}
	frame := NewFrameMessage(clientID, direction, msg, time.Now())
	go func() {
		if err := p.publish(FrameTopic(clientID, direction, msg), frame); err != nil {
			log.Printf("MQTT: Failed to publish frame: %v", err)
		}
	}()
}

// PublishTransactionEvent publishes transaction lifecycle events
func (p *Publisher) PublishTransactionEvent(clientID, eventType string, event interface{}) {
	p.publishBusinessEvent(clientID, eventType, "transaction", event)
}

// PublishConnectorEvent publishes connector status change events
func (p *Publisher) PublishConnectorEvent(clientID string, event interface{}) {
	p.publishBusinessEvent(clientID, "status_changed", "connector", event)
}

// PublishMeterReadingEvent publishes meter reading events
func (p *Publisher) PublishMeterReadingEvent(clientID string, event interface{}) {
	p.publishBusinessEvent(clientID, "meter_reading", "transaction", event)
}

func (p *Publisher) publishBusinessEvent(clientID, eventType, category string, payload interface{}) {
	if !p.config.BusinessEventsEnabled {
		return
	}
	now := time.Now()
	message := BusinessEvent{
		Timestamp: now,
		ClientID:  clientID,
		EventType: eventType,
		EventID:   fmt.Sprintf("%s_%d", eventType, now.UnixNano()),
		Payload:   payload,
	}
	go func() {
		if err := p.publish(BusinessTopic(category, clientID, eventType), message); err != nil {
			log.Printf("MQTT: Failed to publish %s event: %v", category, err)
		}
	}()
}

func (p *Publisher) publish(topic string, message interface{}) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message: %w", err)
	}

	token := p.client.Publish(topic, p.config.QoS, p.config.Retained, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timeout waiting for MQTT publish to %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	log.Debugf("MQTT: Published to topic '%s'", topic)
	return nil
}

// NewFrameMessage builds the mirrored form of msg.
func NewFrameMessage(clientID, direction string, msg *ocpp.Message, at time.Time) FrameMessage {
	return FrameMessage{
		Timestamp:        at,
		ClientID:         clientID,
		Direction:        direction,
		MessageType:      msg.TypeID.String(),
		UniqueID:         msg.UniqueID,
		Action:           msg.Action,
		ErrorCode:        string(msg.ErrorCode),
		ErrorDescription: msg.ErrorDescription,
		Payload:          msg.Payload,
	}
}

// FrameTopic is ocpp/{direction}/{clientID}/{action or message type}.
func FrameTopic(clientID, direction string, msg *ocpp.Message) string {
	name := msg.Action
	if name == "" {
		name = msg.TypeID.String()
	}
	return fmt.Sprintf("ocpp/%s/%s/%s", direction, clientID, name)
}

// BusinessTopic is csms/{category}s/{clientID}/{eventType}, for example
// csms/connectors/CP-1/status_changed.
func BusinessTopic(category, clientID, eventType string) string {
	return fmt.Sprintf("csms/%ss/%s/%s", category, clientID, eventType)
}
