package mesh

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(&Config{}, func(FitRequest, error) {})
	assert.NoError(t, err)
	assert.Nil(t, client)

	client, err = InitMQTT(nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NoHandler(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := &Config{MQTT: MQTTConfig{Broker: "tcp://localhost:1883"}}

	_, err := InitMQTT(config, nil)
	assert.Error(t, err)
}

// InitMQTT connects in the background and must not block on an unreachable broker
func TestInitMQTT_ReturnsImmediately(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	config := &Config{MQTT: MQTTConfig{Broker: "tcp://localhost:1883", PublishPrefix: "lab"}}

	start := time.Now()
	client, err := InitMQTT(config, func(FitRequest, error) {})
	duration := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Less(t, duration, 100*time.Millisecond)
	assert.Equal(t, "lab/requests", client.RequestTopic())
	assert.Same(t, client, GetMQTTClient())

	client.Disconnect()
}

func TestTopicPrefix(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		config *Config
		want   string
	}{
		{"default", "", nil, DefaultTopicPrefix},
		{"config", "", &Config{MQTT: MQTTConfig{PublishPrefix: "lab"}}, "lab"},
		{"env wins", "studio", &Config{MQTT: MQTTConfig{PublishPrefix: "lab"}}, "studio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MQTT_PUBLISH_PREFIX", tt.env)
			assert.Equal(t, tt.want, TopicPrefix(tt.config))
		})
	}
}

func TestDecodeFitRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
		want    FitRequest
	}{
		{
			name:    "valid",
			payload: `{"id":" p1 ","body":"b.obj","garment":"g.glb","profile":"male_tshirt"}`,
			want:    FitRequest{ID: "p1", Body: "b.obj", Garment: "g.glb", Profile: "male_tshirt"},
		},
		{name: "not json", payload: `fit please`, wantErr: "decoding fit request"},
		{name: "missing id", payload: `{"body":"b","garment":"g","profile":"p"}`, wantErr: "id is required"},
		{name: "slash in id", payload: `{"id":"a/b","body":"b","garment":"g","profile":"p"}`, wantErr: "must not contain"},
		{name: "wildcard in id", payload: `{"id":"a+","body":"b","garment":"g","profile":"p"}`, wantErr: "must not contain"},
		{name: "hash in id", payload: `{"id":"#","body":"b","garment":"g","profile":"p"}`, wantErr: "must not contain"},
		{name: "missing body", payload: `{"id":"p1","garment":"g","profile":"p"}`, wantErr: "body is required"},
		{name: "missing garment", payload: `{"id":"p1","body":"b","profile":"p"}`, wantErr: "garment is required"},
		{name: "missing profile", payload: `{"id":"p1","body":"b","garment":"g"}`, wantErr: "profile is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFitRequest([]byte(tt.payload))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, PairConfig{ID: "p1", Body: "b.obj", Garment: "g.glb", Profile: "male_tshirt"}, got.Pair())
		})
	}
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_ConcurrentAccess(t *testing.T) {
	client := &MQTTClient{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				client.setConnected(j%2 == 0)
				_ = client.IsConnected()
			}
		}()
	}
	wg.Wait()
}

func TestMQTTClient_GetClient(t *testing.T) {
	mock := NewMockClient()
	client := newMQTTClientWithMock(mock, "", nil)

	assert.Same(t, mock, client.GetClient())
	assert.Equal(t, "garmentfit/requests", client.RequestTopic())
}

func TestMQTTDisconnect(t *testing.T) {
	// nil mqtt.Client must not panic
	(&MQTTClient{isConnected: true}).Disconnect()

	mock := NewMockClient()
	mock.SetConnected(true)
	client := newMQTTClientWithMock(mock, "lab", nil)
	client.setConnected(true)

	client.Disconnect()
	assert.False(t, mock.IsConnected())
	assert.False(t, client.IsConnected())
}

func TestOnConnect_SubscribesRequestTopic(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	client := newMQTTClientWithMock(mock, "lab", func(FitRequest, error) {})

	client.onConnect(mock)

	assert.True(t, client.IsConnected())
	assert.Equal(t, []string{"lab/requests"}, mock.Subscriptions())
	qos, ok := mock.SubscriptionQoS("lab/requests")
	require.True(t, ok)
	assert.Equal(t, byte(1), qos)
}

func TestOnConnect_SubscribeError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(errors.New("not authorized"))
	client := newMQTTClientWithMock(mock, "lab", func(FitRequest, error) {})

	client.onConnect(mock)

	assert.Empty(t, mock.Subscriptions())
}

func TestOnConnectionLost(t *testing.T) {
	client := newMQTTClientWithMock(NewMockClient(), "", nil)
	client.setConnected(true)

	client.onConnectionLost(nil, errors.New("EOF"))
	assert.False(t, client.IsConnected())
}

func TestConnectWithRetry_ConnectsAndSubscribes(t *testing.T) {
	mock := NewMockClient()
	var (
		mu       sync.Mutex
		received []FitRequest
	)
	client := newMQTTClientWithMock(mock, "lab", func(req FitRequest, err error) {
		require.NoError(t, err)
		mu.Lock()
		received = append(received, req)
		mu.Unlock()
	})
	mock.SetOnConnectHandler(client.onConnect)

	client.connectWithRetry()

	assert.True(t, client.IsConnected())
	delivered := mock.SimulateMessage("lab/requests",
		[]byte(`{"id":"p1","body":"b.obj","garment":"g.obj","profile":"female_tshirt"}`))
	require.True(t, delivered)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "p1", received[0].ID)
}

func TestHandleRequest_InvalidPayload(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var gotErr error
	calls := 0
	client := newMQTTClientWithMock(mock, "lab", func(req FitRequest, err error) {
		calls++
		gotErr = err
	})
	client.onConnect(mock)

	mock.SimulateMessage("lab/requests", []byte(`{"id":"a/b","body":"b","garment":"g","profile":"p"}`))

	assert.Equal(t, 1, calls, "handler sees rejected requests too")
	assert.True(t, errors.Is(gotErr, ErrInvalidInput))
}

func TestHandleRequest_NilHandler(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	client := newMQTTClientWithMock(mock, "lab", nil)
	client.onConnect(mock)

	assert.NotPanics(t, func() {
		mock.SimulateMessage("lab/requests", []byte(`{}`))
	})
}

func BenchmarkDecodeFitRequest(b *testing.B) {
	payload := []byte(`{"id":"p1","body":"b.obj","garment":"g.obj","profile":"female_tshirt"}`)
	for i := 0; i < b.N; i++ {
		_, _ = DecodeFitRequest(payload)
	}
}
