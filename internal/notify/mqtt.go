package notify

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTNotifier publishes notifications as JSON to a fixed MQTT topic.
type MQTTNotifier struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

// MQTTOptions configures the MQTT notifier connection.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// ConnectMQTT connects to the broker and returns a notifier publishing to
// the configured topic.
func ConnectMQTT(opts MQTTOptions) (*MQTTNotifier, error) {
	n := &MQTTNotifier{
		topic: opts.Topic,
		log:   opts.Log.With().Str("component", "mqtt-notify").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(n.onConnect).
		SetConnectionLostHandler(n.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	n.conn = mqtt.NewClient(clientOpts)
	token := n.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return n, nil
}

func (n *MQTTNotifier) onConnect(mqtt.Client) {
	n.connected.Store(true)
	n.log.Info().Str("topic", n.topic).Msg("mqtt connected")
}

func (n *MQTTNotifier) onConnectionLost(_ mqtt.Client, err error) {
	n.connected.Store(false)
	n.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Notify publishes the notification. Delivery errors are logged, not returned.
func (n *MQTTNotifier) Notify(note Notification) {
	payload, err := json.Marshal(note)
	if err != nil {
		return
	}
	token := n.conn.Publish(n.topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			n.log.Warn().Err(err).Str("type", note.Type).Msg("notification publish failed")
		}
	}()
}

// IsConnected reports broker connectivity for the health endpoint.
func (n *MQTTNotifier) IsConnected() bool {
	return n.connected.Load()
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.log.Info().Msg("disconnecting mqtt notifier")
	n.conn.Disconnect(1000)
}
