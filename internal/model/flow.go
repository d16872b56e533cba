package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeliveryMode selects how the session payload reaches the native client.
type DeliveryMode string

const (
	// DeliveryDirect returns the payload as the callback's JSON response.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryLoopback renders a page that POSTs the payload to 127.0.0.1:<port>.
	DeliveryLoopback DeliveryMode = "loopback"
)

var (
	ErrInvalidMode = errors.New("invalid delivery mode")
	ErrInvalidPort = errors.New("invalid loopback port")
)

// ParseDeliveryMode parses a mode request parameter. An empty value is
// returned as "" (unspecified), not as direct.
func ParseDeliveryMode(raw string) (DeliveryMode, error) {
	switch DeliveryMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case DeliveryDirect:
		return DeliveryDirect, nil
	case DeliveryLoopback:
		return DeliveryLoopback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// ParsePort parses a loopback port request parameter. Empty means unspecified (0).
func ParsePort(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, raw)
	}
	return port, nil
}

// FlowParams are the delivery preferences captured at initiation and
// carried across the provider redirect.
type FlowParams struct {
	Mode      DeliveryMode `json:"mode,omitempty"`
	Port      int          `json:"port,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// IsEmpty reports whether neither mode nor port was supplied.
func (p FlowParams) IsEmpty() bool {
	return p.Mode == "" && p.Port == 0
}
