package realtime

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// NetstringEncoder encodes data into netstring format
type NetstringEncoder struct {
	w io.Writer
}

// NewNetstringEncoder creates a new netstring encoder
func NewNetstringEncoder(w io.Writer) *NetstringEncoder {
	return &NetstringEncoder{w: w}
}

// Encode writes data as a netstring: <length>:<data>,
func (e *NetstringEncoder) Encode(data []byte) error {
	header := fmt.Sprintf("%d:", len(data))
	if _, err := e.w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if _, err := e.w.Write([]byte{','}); err != nil {
		return err
	}
	return nil
}

// NetstringDecoder decodes netstring-framed data from a stream
type NetstringDecoder struct {
	r      io.Reader
	buffer []byte
}

// NewNetstringDecoder creates a new netstring decoder
func NewNetstringDecoder(r io.Reader) *NetstringDecoder {
	return &NetstringDecoder{
		r:      r,
		buffer: make([]byte, 0),
	}
}

// Decode reads and decodes the next netstring from the stream.
// Returns the payload without the framing. Malformed framing (a non-numeric
// length or a missing trailing comma) is skipped one byte at a time until the
// decoder resyncs on a valid frame, so one bad frame cannot wedge the stream.
func (d *NetstringDecoder) Decode() ([]byte, error) {
	for {
		payload, remaining, ok := d.tryParse()
		skipped := len(remaining) < len(d.buffer)
		d.buffer = remaining
		if ok {
			return payload, nil
		}
		if skipped {
			// Dropped a corrupt byte; retry before reading more.
			continue
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if err != nil {
			return nil, err
		}
		d.buffer = append(d.buffer, chunk[:n]...)
	}
}

// tryParse attempts to parse a complete netstring from the buffer.
// Returns (payload, remaining buffer, success). On malformed framing the
// remaining buffer advances past the first byte; on an incomplete frame it is
// returned unchanged.
func (d *NetstringDecoder) tryParse() ([]byte, []byte, bool) {
	if len(d.buffer) < 3 {
		return nil, d.buffer, false
	}

	colonIdx := bytes.IndexByte(d.buffer, ':')
	if colonIdx == -1 {
		return nil, d.buffer, false
	}

	lengthStr := string(d.buffer[:colonIdx])
	length, err := strconv.Atoi(lengthStr)
	if err != nil || length < 0 {
		return nil, d.buffer[1:], false
	}

	// Format: <length>:<data>,
	totalNeeded := colonIdx + 1 + length + 1
	if len(d.buffer) < totalNeeded {
		return nil, d.buffer, false
	}

	if d.buffer[totalNeeded-1] != ',' {
		return nil, d.buffer[1:], false
	}

	payload := make([]byte, length)
	copy(payload, d.buffer[colonIdx+1:colonIdx+1+length])

	remaining := d.buffer[totalNeeded:]

	return payload, remaining, true
}
