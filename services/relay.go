package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	httptrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/net/http"

	"github.com/resqhq/resq/internal/apperr"
	"github.com/resqhq/resq/internal/config"
)

// CloudRelayService talks to the hosted notification gateway. Self-hosted
// instances register their public key at startup, then route push
// notifications through the relay instead of holding FCM credentials locally.
// A breaker keeps a flapping gateway from stalling notification delivery.
type CloudRelayService struct {
	cloudURL   string
	cloudToken string
	instanceID string
	identity   *IdentityService
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewCloudRelayService(identity *IdentityService) *CloudRelayService {
	client := httptrace.WrapClient(&http.Client{Timeout: 30 * time.Second})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cloud-relay",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[relay] breaker %s: %s -> %s", name, from, to)
		},
	})

	return &CloudRelayService{
		cloudURL:   config.App.Gateway.URL,
		cloudToken: config.App.Gateway.APIToken,
		instanceID: config.App.InstanceID,
		identity:   identity,
		httpClient: client,
		breaker:    breaker,
	}
}

// IsConfigured reports whether the gateway URL and instance are set.
func (s *CloudRelayService) IsConfigured() bool {
	return s.cloudURL != "" && s.instanceID != ""
}

// RegisterWithCloud uploads this instance's public key to the gateway. Called
// once at startup; the gateway verifies signed payloads against it later.
func (s *CloudRelayService) RegisterWithCloud() error {
	if !s.IsConfigured() {
		return fmt.Errorf("cloud relay not configured")
	}
	if s.cloudToken == "" {
		return fmt.Errorf("CLOUD_TOKEN not configured")
	}
	if s.identity == nil {
		return fmt.Errorf("identity service not initialized")
	}

	publicKey, err := s.identity.PublicKeyPEM()
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}

	body, err := s.post("/api/gateway/instances/register", map[string]interface{}{
		"public_key": publicKey,
	})
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse registration response: %w", err)
	}
	if instanceID, ok := result["instance_id"].(string); ok && instanceID != "" {
		log.Printf("[relay] public key registered with cloud relay, instance %s", instanceID)
	}
	return nil
}

// SendNotification pushes one notification through the gateway.
func (s *CloudRelayService) SendNotification(userID, title, msgBody string, data map[string]string, priority string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("cloud relay not configured")
	}

	_, err := s.post("/api/gateway/notifications/send", map[string]interface{}{
		"instance_id": s.instanceID,
		"user_id":     userID,
		"notification": map[string]interface{}{
			"title":    title,
			"body":     msgBody,
			"data":     data,
			"priority": priority,
		},
	})
	return err
}

func (s *CloudRelayService) post(path string, payload map[string]interface{}) ([]byte, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay payload: %w", err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequest(http.MethodPost, s.cloudURL+path, bytes.NewBuffer(jsonPayload))
		if err != nil {
			return nil, fmt.Errorf("failed to create relay request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cloudToken)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, "cloud relay unreachable", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return nil, apperr.Newf(apperr.KindUpstream, "cloud relay %s returned %s: %s", path, resp.Status, string(body))
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
