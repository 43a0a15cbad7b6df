package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/status"
)

// ErrNotConnected is returned for unbuffered publishes while offline.
var ErrNotConnected = errors.New("mqtt not connected")

// DefaultBufferSize is how many state and system messages are kept while
// the broker is unreachable.
const DefaultBufferSize = 64

// Options configures a RealPublisher.
type Options struct {
	Broker         string
	Device         string
	BufferSize     int
	ConnectTimeout time.Duration
	Now            func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. State and system
// messages published while offline are buffered and replayed on
// reconnect; telemetry is dropped since it is stale by then.
type RealPublisher struct {
	client paho.Client
	topics Topics
	now    func() time.Time

	mu            sync.Mutex
	buf           *outbox
	handler       CommandHandler
	connectedOnce bool
}

// NewRealPublisher creates a publisher for the given broker. The broker
// being unreachable at start is not an error; the client keeps retrying
// in the background.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	p := &RealPublisher{
		topics: NewTopics(o.Device),
		now:    o.Now,
		buf:    newOutbox(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: o.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID("esk8-logger-"+o.Device).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("broker connection lost")
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		log.WithField("broker", o.Broker).Warn("broker not reachable yet, buffering")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	token := c.Subscribe(p.topics.Command, 1, p.onMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.WithError(token.Error()).Warn("subscribe to command topic failed")
	}

	p.mu.Lock()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	pending, dropped := p.buf.take()
	p.mu.Unlock()

	log.WithFields(logrus.Fields{"replay": len(pending), "dropped": dropped}).Info("connected to broker")
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		c.Publish(p.topics.System, 1, false, payload)
	}
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.WithError(err).Warn("ignoring command")
		return
	}
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		log.WithField("command", cmd).Debug("no command handler registered")
		return
	}
	h(cmd)
}

// OnCommand registers the handler for inbound commands.
func (p *RealPublisher) OnCommand(h CommandHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// IsConnected reports whether the client currently has a broker session.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte, bufferable bool) error {
	if !p.client.IsConnectionOpen() {
		if !bufferable {
			return ErrNotConnected
		}
		p.mu.Lock()
		p.buf.add(outboxMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishState sends the device state as a retained QoS 1 message.
func (p *RealPublisher) PublishState(s logic.DeviceState) error {
	payload, err := FormatStatePayload(s, p.now())
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(p.topics.State, 1, true, payload, true)
}

// PublishSnapshot sends the telemetry payload and each field value.
func (p *RealPublisher) PublishSnapshot(snap status.Snapshot) error {
	if err := p.publish(p.topics.Telemetry, 0, false, status.FormatTelemetry(snap), false); err != nil {
		return err
	}
	for name, v := range SnapshotFields(snap) {
		if err := p.PublishField(name, v); err != nil {
			return err
		}
	}
	return nil
}

// PublishField sends a single telemetry value (QoS 0).
func (p *RealPublisher) PublishField(field string, value float64) error {
	return p.publish(p.topics.Field(field), 0, false, FormatField(value), false)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(p.topics.System, 1, event.Retained, payload, true)
}

// Buffered returns how many messages are waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.pending()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
