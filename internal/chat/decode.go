package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)

// DefaultMaxContentLength is used when a Decoder is built with a non-positive limit.
const DefaultMaxContentLength = 2000

// Request is the only inbound frame clients may send.
type Request struct {
	Content string `json:"content"`
}

type inboundFrame struct {
	Type    Type    `json:"type"`
	Content *string `json:"content"`
}

// Decoder turns raw client frames into Requests.
type Decoder struct {
	validate *validator.Validate
	rule     string
}

func NewDecoder(maxContentLength int) *Decoder {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Decoder{
		validate: validator.New(),
		rule:     fmt.Sprintf("required,max=%d", maxContentLength),
	}
}

// Decode parses one frame. Errors wrap ErrMalformedFrame or ErrUnknownType.
func (d *Decoder) Decode(data []byte) (Request, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type == "" {
		return Request{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if frame.Type != TypeChat {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
	if frame.Content == nil {
		return Request{}, fmt.Errorf("%w: missing content", ErrMalformedFrame)
	}
	if err := d.validate.Var(*frame.Content, d.rule); err != nil {
		return Request{}, fmt.Errorf("%w: content: %v", ErrMalformedFrame, err)
	}
	return Request{Content: *frame.Content}, nil
}
