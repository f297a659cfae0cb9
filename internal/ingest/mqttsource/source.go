package mqttsource

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"cyclerhub/internal/config"
	"cyclerhub/internal/telemetry/application"
	telemetry "cyclerhub/internal/telemetry/domain"
)

// Source subscribes to an MQTT topic carrying device snapshots and feeds
// them into the ingest service. It is an optional secondary ingest path
// next to the HTTP endpoint.
type Source struct {
	client mqtt.Client
	cfg    config.MQTT
	svc    *application.Service
	logger *log.Logger
}

// New builds a source around a configured but unconnected MQTT client.
func New(cfg config.MQTT, svc *application.Service, logger *log.Logger) *Source {
	s := &Source{cfg: cfg, svc: svc, logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Printf("mqtt connected: %s", cfg.BrokerURL)
		if token := c.Subscribe(cfg.Topic, cfg.QoS, s.handleMessage); token.Wait() && token.Error() != nil {
			logger.Printf("mqtt subscribe error: %v", token.Error())
		} else {
			logger.Printf("mqtt subscribed to %s (QoS %d)", cfg.Topic, cfg.QoS)
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Printf("mqtt connection lost: %v", err)
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects with exponential backoff until the context is cancelled.
func (s *Source) Start(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if token := s.client.Connect(); token.Wait() && token.Error() != nil {
			s.logger.Printf("mqtt connect error: %v; retrying in %s", token.Error(), backoff)
			select {
			case <-time.After(backoff):
				if backoff < maxBackoff {
					backoff *= 2
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		return
	}
}

// Stop disconnects, allowing in-flight handlers to finish.
func (s *Source) Stop() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var snap telemetry.DeviceSnapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		s.logger.Printf("mqtt payload decode error on %s: %v", msg.Topic(), err)
		return
	}
	if accepted, reason := s.svc.Ingest(context.Background(), snap); !accepted {
		s.logger.Printf("mqtt snapshot rejected for %q: %s", snap.DeviceID, reason)
	}
}
