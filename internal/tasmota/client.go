// Package tasmota tracks Tasmota smart switches over MQTT and publishes
// power commands to them.
package tasmota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

const (
	topicDiscovery = "tasmota/discovery/#"
	topicLWT       = "tele/+/LWT"
	topicPower     = "stat/+/POWER"

	qosAtMostOnce byte = 0

	connectTimeout      = 10 * time.Second
	publishTimeout      = 5 * time.Second
	storeTimeout        = 5 * time.Second
	disconnectQuiesceMS = 250
)

// Store is the switch persistence the MQTT client needs.
type Store interface {
	UpsertSwitch(ctx context.Context, switchID string, info *store.DeviceInfo) error
	GetSwitch(ctx context.Context, switchID string) (*store.Switch, error)
	SetSwitchStatus(ctx context.Context, switchID, status string) error
	SetSwitchPower(ctx context.Context, switchID, power string) error
	ListSwitches(ctx context.Context) ([]store.Switch, error)
	CountSwitches(ctx context.Context) (total, online int, err error)
}

// Config holds MQTT connection settings.
type Config struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string
}

// Client maintains the broker connection, mirrors Tasmota device state
// into the store, and publishes power commands.
type Client struct {
	mqtt      mqtt.Client
	store     Store
	logger    *zap.Logger
	brokerURL string
}

// New builds a Client for the given broker. Call Connect to start it.
func New(cfg Config, st Store, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		store:     st,
		logger:    logger.Named("tasmota"),
		brokerURL: cfg.BrokerURL,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "airdancer-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c.mqtt = mqtt.NewClient(opts)
	return c
}

// Connect starts the broker connection. Connect retry is enabled, so a
// broker that is down at startup is tolerated and retried in the
// background.
func (c *Client) Connect() error {
	c.logger.Info("connecting to mqtt broker", zap.String("broker", c.brokerURL))

	token := c.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.logger.Warn("mqtt broker not reachable yet, retrying in background",
			zap.String("broker", c.brokerURL))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection, allowing in-flight messages a
// short quiesce window.
func (c *Client) Disconnect() {
	c.mqtt.Disconnect(disconnectQuiesceMS)
	Connected.Set(0)
	c.logger.Info("disconnected from mqtt broker")
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.mqtt.IsConnected()
}

func (c *Client) onConnect(client mqtt.Client) {
	Connected.Set(1)
	c.logger.Info("connected to mqtt broker", zap.String("broker", c.brokerURL))

	// Subscriptions do not survive reconnects, so they are established
	// here rather than once at startup.
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topicDiscovery, c.handleDiscovery},
		{topicLWT, c.handleLWT},
		{topicPower, c.handlePower},
	}
	for _, sub := range subs {
		token := client.Subscribe(sub.topic, qosAtMostOnce, sub.handler)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			c.logger.Error("failed to subscribe",
				zap.String("topic", sub.topic), zap.Error(token.Error()))
			continue
		}
		c.logger.Debug("subscribed", zap.String("topic", sub.topic))
	}

	c.queryUnknownPowerStates()
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	Connected.Set(0)
	c.logger.Warn("mqtt connection lost", zap.Error(err))
}

// queryUnknownPowerStates asks every switch without a known power state to
// report it.
func (c *Client) queryUnknownPowerStates() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	switches, err := c.store.ListSwitches(ctx)
	if err != nil {
		c.logger.Error("failed to list switches for power query", zap.Error(err))
		return
	}
	for _, sw := range switches {
		if sw.PowerState != store.PowerUnknown {
			continue
		}
		if err := c.QueryPower(sw.SwitchID); err != nil {
			c.logger.Warn("failed to query power state",
				zap.String("switch_id", sw.SwitchID), zap.Error(err))
		}
	}
}

func (c *Client) handleDiscovery(_ mqtt.Client, msg mqtt.Message) {
	MessagesTotal.WithLabelValues("discovery").Inc()

	p, err := parseDiscovery(msg.Payload())
	if err != nil {
		c.logger.Warn("ignoring bad discovery message",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	isNew := false
	existing, err := c.store.GetSwitch(ctx, p.Topic)
	switch {
	case errors.Is(err, store.ErrSwitchNotFound):
		isNew = true
	case err != nil:
		c.logger.Error("failed to look up switch",
			zap.String("switch_id", p.Topic), zap.Error(err))
		return
	}

	info := p.deviceInfo()
	if err := c.store.UpsertSwitch(ctx, p.Topic, info); err != nil {
		c.logger.Error("failed to record switch",
			zap.String("switch_id", p.Topic), zap.Error(err))
		return
	}

	if isNew {
		c.logger.Info("discovered new switch",
			zap.String("switch_id", p.Topic),
			zap.String("ip", p.IP),
			zap.String("hostname", p.Hostname),
			zap.String("model", p.Model))
		if err := c.QueryPower(p.Topic); err != nil {
			c.logger.Warn("failed to query power state",
				zap.String("switch_id", p.Topic), zap.Error(err))
		}
	} else if changes := diffDeviceInfo(existing.DeviceInfo, info); len(changes) > 0 {
		c.logger.Info("switch details changed",
			zap.String("switch_id", p.Topic),
			zap.Strings("changes", changes))
	} else {
		c.logger.Debug("switch rediscovered", zap.String("switch_id", p.Topic))
	}

	c.updateSwitchGauge(ctx)
}

func (c *Client) handleLWT(_ mqtt.Client, msg mqtt.Message) {
	MessagesTotal.WithLabelValues("lwt").Inc()

	switchID, ok := switchIDFromTopic(msg.Topic())
	if !ok {
		return
	}

	status := store.StatusOffline
	if string(msg.Payload()) == "Online" {
		status = store.StatusOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.store.SetSwitchStatus(ctx, switchID, status); err != nil {
		if errors.Is(err, store.ErrSwitchNotFound) {
			c.logger.Debug("availability for unknown switch",
				zap.String("switch_id", switchID))
			return
		}
		c.logger.Error("failed to update switch status",
			zap.String("switch_id", switchID), zap.Error(err))
		return
	}

	c.logger.Info("switch availability changed",
		zap.String("switch_id", switchID), zap.String("status", status))
	c.updateSwitchGauge(ctx)
}

func (c *Client) handlePower(_ mqtt.Client, msg mqtt.Message) {
	MessagesTotal.WithLabelValues("power").Inc()

	switchID, ok := switchIDFromTopic(msg.Topic())
	if !ok {
		return
	}

	power := strings.ToUpper(strings.TrimSpace(string(msg.Payload())))
	if power != store.PowerOn && power != store.PowerOff {
		c.logger.Debug("ignoring unrecognized power payload",
			zap.String("switch_id", switchID), zap.String("payload", power))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.store.SetSwitchPower(ctx, switchID, power); err != nil {
		if errors.Is(err, store.ErrSwitchNotFound) {
			c.logger.Debug("power report for unknown switch",
				zap.String("switch_id", switchID))
			return
		}
		c.logger.Error("failed to update switch power",
			zap.String("switch_id", switchID), zap.Error(err))
		return
	}

	c.logger.Debug("switch power updated",
		zap.String("switch_id", switchID), zap.String("power", power))
}

// Bother pulses a switch on for the given duration using Tasmota's timed
// power command, which takes milliseconds.
func (c *Client) Bother(switchID string, d time.Duration) error {
	CommandsTotal.WithLabelValues("bother").Inc()
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	return c.publish("cmnd/"+switchID+"/TimedPower1", ms)
}

// SwitchOn turns a switch on.
func (c *Client) SwitchOn(switchID string) error {
	CommandsTotal.WithLabelValues("on").Inc()
	return c.publish("cmnd/"+switchID+"/Power1", "ON")
}

// SwitchOff turns a switch off.
func (c *Client) SwitchOff(switchID string) error {
	CommandsTotal.WithLabelValues("off").Inc()
	return c.publish("cmnd/"+switchID+"/Power1", "OFF")
}

// SwitchToggle flips a switch's power state.
func (c *Client) SwitchToggle(switchID string) error {
	CommandsTotal.WithLabelValues("toggle").Inc()
	return c.publish("cmnd/"+switchID+"/Power1", "TOGGLE")
}

// QueryPower asks a switch to report its power state. The device answers
// on its stat topic.
func (c *Client) QueryPower(switchID string) error {
	CommandsTotal.WithLabelValues("query").Inc()
	return c.publish("cmnd/"+switchID+"/Power", "")
}

func (c *Client) publish(topic, payload string) error {
	token := c.mqtt.Publish(topic, qosAtMostOnce, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	c.logger.Debug("published command",
		zap.String("topic", topic), zap.String("payload", payload))
	return nil
}

func (c *Client) updateSwitchGauge(ctx context.Context) {
	total, online, err := c.store.CountSwitches(ctx)
	if err != nil {
		c.logger.Debug("failed to count switches for metrics", zap.Error(err))
		return
	}
	Switches.WithLabelValues(store.StatusOnline).Set(float64(online))
	Switches.WithLabelValues(store.StatusOffline).Set(float64(total - online))
}

var _ Store = (*store.Store)(nil)
