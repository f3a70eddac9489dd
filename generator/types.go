package generator

import (
	"errors"
	"fmt"
)

// Completion is the success shape of the inference contract.
type Completion struct {
	Model   string
	Choices []string
}

// Options 控制单次推理调用。
type Options struct {
	MaxTokens   int
	Temperature float64
}

// DefaultMaxTokens caps the generated document length.
const DefaultMaxTokens = 4096

// maxProviderMessage is how much of a provider message is surfaced.
const maxProviderMessage = 128

// ProviderError is the error envelope reported by the inference endpoint.
type ProviderError struct {
	Code    string
	Message string
	Status  int
}

func (e *ProviderError) Error() string {
	return Truncate(e.Message, maxProviderMessage) + "..."
}

// Truncate keeps at most n runes of s.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// TransportError wraps a failure to reach the endpoint at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("could not contact OpenAI: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ContentError means the call succeeded but yielded no usable document.
type ContentError struct {
	Reason string
	Raw    string
}

func (e *ContentError) Error() string {
	return "could not generate a design from those wireframes: " + e.Reason
}

var ErrEmptyChoices = errors.New("openai: empty choices")
