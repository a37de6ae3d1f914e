// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxClientIDLen   = 64
	MaxClientNameLen = 50
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrIDEmpty     = errors.New("client id empty")
	ErrIDTooLong   = errors.New("client id too long")
)

type ClientID string

type Status string

const (
	StatusPending      Status = "pending"
	StatusAuthorized   Status = "authorized"
	StatusRejected     Status = "rejected"
	StatusDisconnected Status = "disconnected"
)

// ClientPublic is the snapshot of a client that other clients and the admin API may see.
type ClientPublic struct {
	ID             ClientID    `json:"id"`
	Name           string      `json:"name"`
	Status         Status      `json:"status"`
	CurrentChannel ChannelID   `json:"current_channel_id,omitempty"`
	Permissions    Permissions `json:"permissions"`
}

// ValidateClientID checks the id a client asked for on connect.
func ValidateClientID(id string) error {
	if len(id) == 0 {
		return ErrIDEmpty
	}
	if utf8.RuneCountInString(id) > MaxClientIDLen {
		return ErrIDTooLong
	}
	return nil
}

// DisplayName trims the requested name and falls back to a placeholder derived from the id.
func DisplayName(id ClientID, requested string) (string, error) {
	name := strings.TrimSpace(requested)
	if utf8.RuneCountInString(name) > MaxClientNameLen {
		return "", ErrNameTooLong
	}
	if name == "" {
		short := []rune(string(id))
		if len(short) > 8 {
			short = short[:8]
		}
		name = "User_" + string(short)
	}
	return name, nil
}
