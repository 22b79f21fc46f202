package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Record is the identity the authentication collaborator persisted for
// this device. The engine treats it as read-only input: it is loaded once
// at startup and never written back.
type Record struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// ConfigurationError reports identity input that cannot start a session.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "identity: " + e.Reason
}

// Load reads the identity record from path.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}

	rec.Username = strings.TrimSpace(rec.Username)
	if rec.Username == "" {
		return nil, &ConfigurationError{Reason: "username is empty"}
	}

	return &rec, nil
}
