package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// ackTimeout bounds every publish, subscribe and unsubscribe round trip.
	ackTimeout = 5 * time.Second

	// quiesceMillis is how long Disconnect lets in-flight work finish.
	quiesceMillis = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2

	// Audit payloads are small; anything near this is a bug upstream.
	maxPayloadSize = 1 << 20

	tlsMinVersion = tls.VersionTLS12
)

// Presence states and reasons published on the system status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// buildClientOptions maps config onto paho options. The session is clean:
// Warden keeps no broker-side state and re-subscribes itself on reconnect.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// configureLWT has the broker publish a retained offline presence for this
// instance if it vanishes without Close.
func configureLWT(opts *pahomqtt.ClientOptions, instance string) {
	opts.SetBinaryWill(Topics{}.SystemStatus(), presencePayload(instance, statusOffline, reasonUnexpected), 1, true)
}

// presence is the retained body of warden/system/status.
type presence struct {
	Status    string `json:"status"`
	Instance  string `json:"instance"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(instance, status, reason string) []byte {
	b, _ := json.Marshal(presence{ //nolint:errcheck // plain strings always encode
		Status:    status,
		Instance:  instance,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
