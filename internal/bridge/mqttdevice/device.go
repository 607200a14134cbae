package mqttdevice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// defaultInvokeTimeout bounds how long INVOKE waits for a matching response
// on the device's invoke/{method}/res topic.
const defaultInvokeTimeout = 5 * time.Second

// Device bridges one MQTT-reachable device id onto the broker's topic
// namespace and implements meshnode.Device and meshnode.NotificationSource.
type Device struct {
	broker *Broker
	id     string
	qos    byte

	stateMu sync.RWMutex
	state   map[string]any

	putMu  sync.RWMutex
	puts   []func(metric string, value any)
	notMu  sync.RWMutex
	notifs []func(event string, params []any)

	pending sync.Map // correlation id -> chan invokeResult
	seq     atomic.Uint64
}

type invokeResult struct {
	value any
	err   string
}

// NewDevice subscribes to id's state and event topics and returns a Device
// ready to be registered with a Node.
func NewDevice(broker *Broker, id string, qos int) (*Device, error) {
	d := &Device{
		broker: broker,
		id:     id,
		qos:    byte(qos),
		state:  make(map[string]any),
	}

	if err := broker.subscribe(stateTopic(id, "+"), d.qos, d.handleState); err != nil {
		return nil, fmt.Errorf("mqttdevice: subscribing to state topics: %w", err)
	}
	if err := broker.subscribe(eventTopic(id, "+"), d.qos, d.handleEvent); err != nil {
		return nil, fmt.Errorf("mqttdevice: subscribing to event topics: %w", err)
	}
	if err := broker.subscribe(invokeResponseTopic(id, "+"), d.qos, d.handleInvokeResponse); err != nil {
		return nil, fmt.Errorf("mqttdevice: subscribing to invoke responses: %w", err)
	}

	return d, nil
}

// Get returns the last retained state value seen for property, or nil if
// none has arrived yet.
func (d *Device) Get(_ context.Context, property string) (any, error) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state[property], nil
}

// Set publishes property's new value to the device's set topic. MQTT gives
// no synchronous acknowledgement of the device applying it, so Set returns
// optimistically once the broker accepts the publish.
func (d *Device) Set(_ context.Context, property string, value any) (any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("mqttdevice: marshalling set payload: %w", err)
	}
	if err := d.broker.publish(setTopic(d.id, property), d.qos, false, payload); err != nil {
		return nil, fmt.Errorf("mqttdevice: publishing set: %w", err)
	}
	return value, nil
}

// Invoke publishes an invoke request and blocks for the matching response
// (correlated by a monotonically increasing id) or defaultInvokeTimeout.
func (d *Device) Invoke(ctx context.Context, method string, params []any) (any, error) {
	corrID := fmt.Sprintf("%s-%d", d.id, d.seq.Add(1))
	resultCh := make(chan invokeResult, 1)
	d.pending.Store(corrID, resultCh)
	defer d.pending.Delete(corrID)

	payload, err := json.Marshal(map[string]any{"id": corrID, "params": params})
	if err != nil {
		return nil, fmt.Errorf("mqttdevice: marshalling invoke request: %w", err)
	}
	if err := d.broker.publish(invokeRequestTopic(d.id, method), d.qos, false, payload); err != nil {
		return nil, fmt.Errorf("mqttdevice: publishing invoke request: %w", err)
	}

	timer := time.NewTimer(defaultInvokeTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != "" {
			return nil, fmt.Errorf("mqttdevice: device returned error: %s", result.err)
		}
		return result.value, nil
	case <-timer.C:
		return nil, ErrInvokeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe is a no-op for MQTT-bridged devices: event delivery already
// happens unconditionally through the attached proxy's ReceiveNotify, since
// every event topic message is fanned out regardless of subscription state.
func (d *Device) Subscribe(_ context.Context, _ string) (any, error) {
	return "ok", nil
}

// Describe reports the bridge's static topic layout for property, since
// MQTT devices carry no machine-readable schema of their own.
func (d *Device) Describe(_ context.Context, property string) (any, error) {
	return map[string]string{
		"ident":       property,
		"state_topic": stateTopic(d.id, property),
		"set_topic":   setTopic(d.id, property),
	}, nil
}

// Config publishes to the same set topic as Set; MQTT devices draw no
// distinction between a runtime property and a configuration property.
func (d *Device) Config(ctx context.Context, property string, value any) (any, error) {
	return d.Set(ctx, property, value)
}

// OnPut registers a listener invoked whenever a retained state message
// arrives, and returns a function that detaches it.
func (d *Device) OnPut(listener func(metric string, value any)) func() {
	d.putMu.Lock()
	idx := len(d.puts)
	d.puts = append(d.puts, listener)
	d.putMu.Unlock()

	return func() {
		d.putMu.Lock()
		defer d.putMu.Unlock()
		if idx < len(d.puts) {
			d.puts[idx] = nil
		}
	}
}

// OnNotify registers a listener invoked whenever an event message arrives,
// and returns a function that detaches it.
func (d *Device) OnNotify(listener func(event string, params []any)) func() {
	d.notMu.Lock()
	idx := len(d.notifs)
	d.notifs = append(d.notifs, listener)
	d.notMu.Unlock()

	return func() {
		d.notMu.Lock()
		defer d.notMu.Unlock()
		if idx < len(d.notifs) {
			d.notifs[idx] = nil
		}
	}
}

func (d *Device) handleState(_ pahomqtt.Client, msg pahomqtt.Message) {
	property := topicSuffix(msg.Topic())
	var value any
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		value = string(msg.Payload())
	}

	d.stateMu.Lock()
	d.state[property] = value
	d.stateMu.Unlock()

	d.putMu.RLock()
	defer d.putMu.RUnlock()
	for _, listener := range d.puts {
		if listener != nil {
			listener(property, value)
		}
	}
}

func (d *Device) handleEvent(_ pahomqtt.Client, msg pahomqtt.Message) {
	event := topicSuffix(msg.Topic())
	var params []any
	if err := json.Unmarshal(msg.Payload(), &params); err != nil {
		params = []any{string(msg.Payload())}
	}

	d.notMu.RLock()
	defer d.notMu.RUnlock()
	for _, listener := range d.notifs {
		if listener != nil {
			listener(event, params)
		}
	}
}

func (d *Device) handleInvokeResponse(_ pahomqtt.Client, msg pahomqtt.Message) {
	var body struct {
		ID    string `json:"id"`
		Value any    `json:"value"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		return
	}

	entry, ok := d.pending.Load(body.ID)
	if !ok {
		return
	}
	resultCh, ok := entry.(chan invokeResult)
	if !ok {
		return
	}
	resultCh <- invokeResult{value: body.Value, err: body.Error}
}
