// Package broker wraps an MQTT client with the connect/last-will/publish/
// subscribe surface the Engine needs, built on top of
// github.com/eclipse/paho.mqtt.golang.
package broker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one inbound (topic, payload) pair.
type Message struct {
	Topic   string
	Payload []byte
}

// Interface is the capability the Engine depends on, so tests can
// substitute a fake broker.
type Interface interface {
	Connect() error
	Disconnect()
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(pattern string) error
	Messages() <-chan Message
}

// Options configures a Session.
type Options struct {
	Host              string
	Port              int
	Username          string
	Password          string
	ClientID          string
	AvailabilityTopic string
	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
}

// Session is a single MQTT connection with a retained last-will on
// AvailabilityTopic and an explicit "online" announcement published right
// after connect.
type Session struct {
	opts Options

	client   mqtt.Client
	messages chan Message
}

// New builds a Session. The connection is not opened until Connect.
func New(opts Options) *Session {
	return &Session{
		opts:     opts,
		messages: make(chan Message, 256),
	}
}

// Connect opens the connection and publishes availability=online.
func (s *Session) Connect() error {
	broker := fmt.Sprintf("tcp://%s:%d", s.opts.Host, s.opts.Port)
	clientOpts := mqtt.NewClientOptions().AddBroker(broker)
	if s.opts.ClientID != "" {
		clientOpts.SetClientID(s.opts.ClientID)
	}
	if s.opts.Username != "" {
		clientOpts.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		clientOpts.SetPassword(s.opts.Password)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(false) // reconnect is driven by the Engine's backoff loop
	clientOpts.SetKeepAlive(s.opts.KeepAlive)
	clientOpts.SetWill(s.opts.AvailabilityTopic, "offline", 1, true)
	clientOpts.SetConnectTimeout(s.opts.ConnectTimeout)

	clientOpts.SetCustomOpenConnectionFn(func(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
		d := net.Dialer{Timeout: s.opts.ConnectTimeout}
		return d.DialContext(context.Background(), "tcp", uri.Host)
	})

	clientOpts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		s.deliver(Message{Topic: m.Topic(), Payload: m.Payload()})
	})

	s.client = mqtt.NewClient(clientOpts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(s.opts.ConnectTimeout) || tok.Error() != nil {
		return fmt.Errorf("broker: connect: %w", tokenError(tok))
	}

	return s.Publish(s.opts.AvailabilityTopic, []byte("online"), 1, true)
}

// Disconnect best-effort publishes availability=offline, then closes.
func (s *Session) Disconnect() {
	if s.client == nil {
		return
	}
	_ = s.Publish(s.opts.AvailabilityTopic, []byte("offline"), 1, true)
	s.client.Disconnect(250)
}

// Publish sends payload to topic.
func (s *Session) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if s.client == nil {
		return fmt.Errorf("broker: not connected")
	}
	tok := s.client.Publish(topic, qos, retain, payload)
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		return fmt.Errorf("broker: publish %s: %w", topic, tokenError(tok))
	}
	return nil
}

// Subscribe subscribes to a topic pattern; inbound messages surface via
// Messages().
func (s *Session) Subscribe(pattern string) error {
	if s.client == nil {
		return fmt.Errorf("broker: not connected")
	}
	tok := s.client.Subscribe(pattern, 1, func(_ mqtt.Client, m mqtt.Message) {
		s.deliver(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		return fmt.Errorf("broker: subscribe %s: %w", pattern, tokenError(tok))
	}
	return nil
}

// Messages returns the channel inbound messages are delivered on. It is
// never closed by the Session; callers select on it alongside their own
// cancellation.
func (s *Session) Messages() <-chan Message {
	return s.messages
}

func (s *Session) deliver(m Message) {
	select {
	case s.messages <- m:
	default:
		// Drop rather than block the paho receive loop; a missed command
		// is superseded by the next retained publish from the same topic.
	}
}

func tokenError(tok mqtt.Token) error {
	if err := tok.Error(); err != nil {
		return err
	}
	return fmt.Errorf("timed out")
}
