// Package frame packs a provider message (id, attributes and body) into a
// single blob for transports that have no out-of-band metadata.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrInvalidFrame = errors.New("invalid frame")

type Frame struct {
	ID          string            `msgpack:"id"`
	Attributes  map[string]string `msgpack:"attrs,omitempty"`
	Data        []byte            `msgpack:"data"`
	PublishedAt int64             `msgpack:"ts"`
}

func New(id string, data []byte, attrs map[string]string) Frame {
	return Frame{
		ID:          id,
		Attributes:  attrs,
		Data:        data,
		PublishedAt: time.Now().UnixMilli(),
	}
}

func (f Frame) PublishTime() time.Time { return time.UnixMilli(f.PublishedAt) }

func Encode(f Frame) ([]byte, error) {
	return msgpack.Marshal(&f)
}

func Decode(b []byte) (f Frame, err error) {
	if err = msgpack.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if f.ID == "" {
		return Frame{}, fmt.Errorf("%w: missing id", ErrInvalidFrame)
	}
	return f, nil
}
