// ABOUTME: Closed enumeration for message kinds carried on the wire.
// ABOUTME: Replaces the ad-hoc string comparisons with exhaustive matches.

package message

import "fmt"

// Kind identifies the payload carried by a message.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindAppointment Kind = "appointment"
)

// ParseKind converts a wire string into a Kind. An empty string maps to
// KindText because older server records omit the field entirely.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindImage, KindAppointment:
		return Kind(s), nil
	case "":
		return KindText, nil
	default:
		return "", fmt.Errorf("unknown message kind %q", s)
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAppointment:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}
