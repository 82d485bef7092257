// Package publish sends sample window summaries to an MQTT broker.
package publish

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/luhtfiimanal/go-pms7003/internal/config"
	"github.com/luhtfiimanal/go-pms7003/internal/sampler"
)

// Publisher is a sampler.Sink publishing each averaged field to its own topic.
type Publisher struct {
	client      paho.Client
	topicPrefix string
	topics      [12]string
	airQuality  string
	qos         byte
	retain      bool
	log         *zap.Logger
}

// ClientOptionsFromURL creates client options from an mqtt:// URL.
// The URL path becomes a prefix for every topic; a client-id query parameter
// overrides the default "pms7003:<machine id>".
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	var server string
	if u.Scheme == "" || u.Scheme == "mqtt" {
		server = "tcp"
	} else {
		server = u.Scheme
	}
	server += "://" + u.Host

	topicPrefix := strings.TrimPrefix(u.Path, "/")

	opts := paho.NewClientOptions()
	opts.AddBroker(server).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}

	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	} else {
		opts.SetClientID(defaultClientID())
	}
	return opts, topicPrefix, nil
}

func defaultClientID() string {
	id, err := machineid.ProtectedID("pms7003")
	if err != nil || len(id) < 12 {
		return "pms7003"
	}
	return "pms7003:" + id[:12]
}

// New creates a Publisher for cfg. The client is not connected yet.
func New(cfg config.MQTTConfig, log *zap.Logger) (*Publisher, error) {
	opts, prefix, err := ClientOptionsFromURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mqtt url: %w", err)
	}
	p := newPublisher(cfg, prefix, log)
	opts.SetOnConnectHandler(func(paho.Client) { log.Info("mqtt connected") })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	p.client = paho.NewClient(opts)
	return p, nil
}

func newPublisher(cfg config.MQTTConfig, prefix string, log *zap.Logger) *Publisher {
	t := cfg.Topics
	return &Publisher{
		topicPrefix: prefix,
		topics: [12]string{
			t.PM1_0Standard, t.PM2_5Standard, t.PM10Standard,
			t.PM1_0, t.PM2_5, t.PM10,
			t.Count0_3, t.Count0_5, t.Count1_0, t.Count2_5, t.Count5_0, t.Count10,
		},
		airQuality: t.AirQuality,
		qos:        cfg.QoS,
		retain:     cfg.Retain,
		log:        log,
	}
}

// Connect connects to the broker, waiting at most until ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect())
}

// ConnectRetry calls Connect every interval until it succeeds or ctx is done.
// Once connected, paho reconnects on its own.
func (p *Publisher) ConnectRetry(ctx context.Context, interval time.Duration) {
	for {
		err := p.Connect(ctx)
		if err == nil {
			return
		}
		p.log.Warn("mqtt connect failed", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Close disconnects, allowing 250ms for in-flight messages.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}

// Publish implements sampler.Sink. Empty topics are skipped.
func (p *Publisher) Publish(ctx context.Context, s sampler.Summary) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt: not connected")
	}
	for _, m := range p.messages(s) {
		if err := wait(ctx, p.client.Publish(m.topic, p.qos, p.retain, m.payload)); err != nil {
			return fmt.Errorf("mqtt publish %q: %w", m.topic, err)
		}
	}
	return nil
}

type message struct {
	topic   string
	payload string
}

func (p *Publisher) messages(s sampler.Summary) []message {
	msgs := make([]message, 0, 13)
	for i, topic := range p.topics {
		if topic == "" {
			continue
		}
		msgs = append(msgs, message{p.topicPrefix + topic, strconv.FormatFloat(s.Average[i], 'f', -1, 64)})
	}
	if p.airQuality != "" {
		msgs = append(msgs, message{p.topicPrefix + p.airQuality, strconv.Itoa(s.AirQuality)})
	}
	return msgs
}

func wait(ctx context.Context, tok paho.Token) error {
	deadline := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	if !tok.WaitTimeout(deadline) {
		return fmt.Errorf("mqtt: timed out after %v", deadline)
	}
	return tok.Error()
}
