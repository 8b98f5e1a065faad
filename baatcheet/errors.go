package baatcheet

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnsupportedDevice = errors.New("unsupported device")
	ErrEmptyPrompt       = errors.New("prompt encodes to no tokens")
	ErrPromptTooLong     = errors.New("prompt exceeds max sequence length")
)
