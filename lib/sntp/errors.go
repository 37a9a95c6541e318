package sntp

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks socket, DNS and timeout failures of one exchange.
	ErrNetwork = errors.New("sntp: network failure")
	// ErrInvalidResponse marks a reply that parsed but failed the trust policy.
	ErrInvalidResponse = errors.New("sntp: invalid response")
	// ErrShortPacket is returned for replies shorter than a full packet.
	ErrShortPacket = errors.New("sntp: short packet")
	// ErrClockDisagreement is returned when the local clocks moved apart
	// while the exchange was in flight.
	ErrClockDisagreement = errors.New("sntp: local clocks disagree")
)

// ValidationError names the response property that broke the trust policy.
type ValidationError struct {
	Field    string
	Expected float64
	Actual   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response from NTP server: %s violation, %v [actual] vs %v [expected]",
		e.Field, e.Actual, e.Expected)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidResponse
}

// NetworkError wraps a transport failure against one host.
type NetworkError struct {
	Host string
	Op   string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("sntp %s %s: %v", e.Op, e.Host, e.Err)
}

// Unwrap exposes both ErrNetwork and the underlying cause.
func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}
