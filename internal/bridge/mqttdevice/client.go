package mqttdevice

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/devmesh/meshnode/internal/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// Broker wraps paho.mqtt.golang with connection management and
// auto-reconnect, shared by every Device bridged through it.
//
// Thread Safety: all methods are safe for concurrent use from multiple
// goroutines.
type Broker struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected bool
	connMu    sync.RWMutex
}

// Connect dials the configured broker and blocks until the initial
// connection succeeds or defaultConnectTimeout elapses.
func Connect(cfg config.MQTTConfig) (*Broker, error) {
	opts := pahomqtt.NewClientOptions()

	// cfg.Broker carries its own scheme (tcp://, ssl://, ws://, ...); it is
	// not assembled from separate host/port/TLS fields here.
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	b := &Broker{cfg: cfg}
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		b.connMu.Lock()
		b.connected = true
		b.connMu.Unlock()
	})
	opts.SetConnectionLostHandler(func(pahomqtt.Client, error) {
		b.connMu.Lock()
		b.connected = false
		b.connMu.Unlock()
	})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	b.connMu.Lock()
	b.connected = true
	b.connMu.Unlock()

	return b, nil
}

// Close disconnects from the broker, waiting defaultDisconnectQuiesce
// milliseconds for pending operations.
func (b *Broker) Close() error {
	if b.client == nil {
		return nil
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
	b.connMu.Lock()
	b.connected = false
	b.connMu.Unlock()
	return nil
}

// HealthCheck reports whether the broker connection is alive.
func (b *Broker) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqttdevice: health check: %w", ctx.Err())
	default:
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last-known connection state.
func (b *Broker) IsConnected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected && b.client.IsConnected()
}

func (b *Broker) publish(topic string, qos byte, retained bool, payload any) error {
	token := b.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("mqttdevice: publish to %s: %w", topic, ErrInvokeTimeout)
	}
	return token.Error()
}

func (b *Broker) subscribe(topic string, qos byte, handler pahomqtt.MessageHandler) error {
	token := b.client.Subscribe(topic, qos, handler)
	token.Wait()
	return token.Error()
}
