// Package publisher periodically pushes fleet snapshots to an MQTT broker
// so external dashboards can follow the fleet without polling the HTTP API.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/uav"
)

type Publisher struct {
	reg      *uav.Registry
	client   mqtt.Client
	Topic    string
	Interval time.Duration

	stopCh chan struct{}
}

// New connects to the broker and returns a ready publisher.
func New(reg *uav.Registry, broker, clientID, topic string, interval time.Duration) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}

	logger.Info("[MQTT] Connected to %s, publishing to %s every %s", broker, topic, interval)
	return &Publisher{
		reg:      reg,
		client:   client,
		Topic:    topic,
		Interval: interval,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run publishes snapshots until Stop is called.
func (p *Publisher) Run() {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Publish()
		}
	}
}

// Publish sends one fleet snapshot.
func (p *Publisher) Publish() {
	snapshot := p.reg.SnapshotAll()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		logger.Error("[MQTT] Failed to marshal snapshot: %v", err)
		return
	}

	token := p.client.Publish(p.Topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		logger.Warn("[MQTT] Publish failed: %v", token.Error())
	}
}

// Stop halts the loop and disconnects from the broker.
func (p *Publisher) Stop() {
	close(p.stopCh)
	p.client.Disconnect(250)
}
