package domain

import (
	"errors"
	"unicode/utf8"
)

const (
	MaxChannelNameLen        = 50
	MaxChannelDescriptionLen = 255
)

var (
	ErrChannelNameEmpty   = errors.New("channel name empty")
	ErrChannelNameTooLong = errors.New("channel name too long")
	ErrDescriptionTooLong = errors.New("channel description too long")
)

type ChannelID string

type Channel struct {
	ID          ChannelID `json:"id" mapstructure:"id"`
	Name        string    `json:"name" mapstructure:"name"`
	Description string    `json:"description,omitempty" mapstructure:"description"`
}

func (c Channel) Validate() error {
	if len(c.Name) == 0 {
		return ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(c.Name) > MaxChannelNameLen {
		return ErrChannelNameTooLong
	}
	if utf8.RuneCountInString(c.Description) > MaxChannelDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}
