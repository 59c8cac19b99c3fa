package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopicPrefix is used when neither MQTT_PUBLISH_PREFIX nor mqtt.publishPrefix is set
const DefaultTopicPrefix = "garmentfit"

// FitRequest asks the service to fit one garment onto one body
type FitRequest struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	Garment string `json:"garment"`
	Profile string `json:"profile"`
}

// Pair converts the request into a pair config
func (r FitRequest) Pair() PairConfig {
	return PairConfig{ID: r.ID, Body: r.Body, Garment: r.Garment, Profile: r.Profile}
}

// DecodeFitRequest parses and validates a request payload.
// The ID becomes a topic level, so it must not contain '/', '+' or '#'.
func DecodeFitRequest(payload []byte) (FitRequest, error) {
	var req FitRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("%w: decoding fit request: %v", ErrInvalidInput, err)
	}
	req.ID = strings.TrimSpace(req.ID)

	switch {
	case req.ID == "":
		return req, fmt.Errorf("%w: fit request id is required", ErrInvalidInput)
	case strings.ContainsAny(req.ID, "/+#"):
		return req, fmt.Errorf("%w: fit request id %q must not contain '/', '+' or '#'", ErrInvalidInput, req.ID)
	case req.Body == "":
		return req, fmt.Errorf("%w: fit request %s: body is required", ErrInvalidInput, req.ID)
	case req.Garment == "":
		return req, fmt.Errorf("%w: fit request %s: garment is required", ErrInvalidInput, req.ID)
	case req.Profile == "":
		return req, fmt.Errorf("%w: fit request %s: profile is required", ErrInvalidInput, req.ID)
	}
	return req, nil
}

// RequestHandler is called for every message on the request topic.
// err is set when the payload could not be decoded; req then holds whatever was parsed.
type RequestHandler func(req FitRequest, err error)

// MQTTClient manages the MQTT connection and the fit request subscription
type MQTTClient struct {
	client         mqtt.Client
	prefix         string
	requestHandler RequestHandler
	isConnected    bool
	mu             sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// TopicPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then the config, then DefaultTopicPrefix
func TopicPrefix(config *Config) string {
	if prefix := os.Getenv("MQTT_PUBLISH_PREFIX"); prefix != "" {
		return prefix
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return DefaultTopicPrefix
}

// InitMQTT initializes the global MQTT client with the provided configuration
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this returns nil
func InitMQTT(config *Config, handler RequestHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	if config == nil {
		config = &Config{}
	}

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no request handler provided")
	}

	client := &MQTTClient{
		prefix:         TopicPrefix(config),
		requestHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "garmentfit"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(false) // fits are slow; don't block the network loop on one

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// RequestTopic is the topic fit requests arrive on
func (c *MQTTClient) RequestTopic() string {
	return c.prefix + "/requests"
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the request topic whenever the connection is (re)established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.RequestTopic()
	log.Printf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] Subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// handleRequest decodes a request message and hands it to the request handler
func (c *MQTTClient) handleRequest(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("[MQTT] Received fit request (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

	req, err := DecodeFitRequest(payload)
	if err != nil {
		log.Printf("[MQTT] Rejecting fit request: %v", err)
	}
	if c.requestHandler != nil {
		c.requestHandler(req, err)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler RequestHandler) *MQTTClient {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTClient{
		client:         client,
		prefix:         prefix,
		requestHandler: handler,
	}
}
