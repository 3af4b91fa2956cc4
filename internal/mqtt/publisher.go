package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/meetly/internal/config"
	"github.com/nugget/meetly/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus rather than stalling the agent.
const eventBuffer = 256

// Publisher manages the MQTT connection and forwards bus events to
// the broker until its context is cancelled.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	usage  *DailyUsage
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin forwarding.
func New(cfg config.MQTTConfig, bus *events.Bus, loc *time.Location, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "meetly"
	}
	return &Publisher{
		cfg:    cfg,
		bus:    bus,
		usage:  NewDailyUsage(loc),
		logger: logger,
	}
}

// Start connects to the broker and forwards events. It blocks until
// ctx is cancelled. On every (re-)connect it publishes a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "meetly-" + uuid.NewString()[:8]
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.forward(ctx)
	return nil
}

// Stop publishes "offline" and closes the connection.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// forward relays bus events until ctx is done.
func (p *Publisher) forward(ctx context.Context) {
	ch := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.usage.Observe(e)
			p.publishEvent(ctx, e)
			if e.Kind == events.KindTurnComplete {
				p.publishUsage(ctx)
			}
		}
	}
}

func (p *Publisher) publishEvent(ctx context.Context, e events.Event) {
	msg, err := eventMessage(p.cfg.TopicPrefix, e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, msg); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", msg.Topic, "error", err)
	}
}

func (p *Publisher) publishUsage(ctx context.Context) {
	for _, msg := range usageMessages(p.cfg.TopicPrefix, p.usage) {
		if _, err := p.cm.Publish(ctx, msg); err != nil {
			p.logger.Debug("mqtt usage publish failed", "topic", msg.Topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

// eventTopic places thread events under their thread and everything
// else under events/.
func eventTopic(prefix string, e events.Event) string {
	if id, _ := e.Data["thread_id"].(string); id != "" {
		return prefix + "/threads/" + topicLevel(id) + "/" + e.Kind
	}
	return prefix + "/events/" + e.Kind
}

// topicLevel makes s safe as a single topic level: no separators and
// no wildcards.
func topicLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}

// eventMessage renders e as a non-retained QoS 0 publish.
func eventMessage(prefix string, e events.Event) (*paho.Publish, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &paho.Publish{
		Topic:   eventTopic(prefix, e),
		Payload: payload,
		QoS:     0,
	}, nil
}

// usageMessages renders today's counters as retained state topics.
func usageMessages(prefix string, u *DailyUsage) []*paho.Publish {
	input, output, turns := u.Snapshot()
	states := []struct {
		name  string
		value int64
	}{
		{"tokens_in_today", input},
		{"tokens_out_today", output},
		{"turns_today", turns},
	}
	out := make([]*paho.Publish, 0, len(states))
	for _, s := range states {
		out = append(out, &paho.Publish{
			Topic:   prefix + "/stats/" + s.name,
			Payload: []byte(strconv.FormatInt(s.value, 10)),
			Retain:  true,
		})
	}
	return out
}
