// Package mavcodec is the Frame Codec (C3): it turns byte buffers into
// typed MAVLink messages and typed messages into bytes. Per spec.md §1 the
// wire-level v1/v2 framing and CRC is treated as an external pure codec
// library; this package wraps github.com/bluenviron/gomavlib/v3, the same
// library wired in the corpus (other_examples/DangAW2002-DroneBridge) against
// pkg/dialect and pkg/dialects/common.
package mavcodec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Dialect is the MAVLink message catalogue this core speaks: the common
// dialect covers every frame named in spec.md §6.
var Dialect = common.Dialect

// dialectRW is the parsed read/writer for Dialect, shared by every Codec.
var dialectRW, _ = dialect.NewReadWriter(Dialect)

// Frame is the decoded unit the router dispatches: sender identity plus
// the typed payload. This realizes the Message of spec.md §3.
type Frame struct {
	SystemID    byte
	ComponentID byte
	Message     message.Message
}

// ID returns the MAVLink message ID of the decoded payload.
func (f Frame) ID() uint32 {
	return f.Message.GetID()
}

// bufTarget is a swappable io.Writer target, letting a single frame.Writer
// (and its internal outgoing sequence counter) be reused across Encode calls
// that each need their own output buffer.
type bufTarget struct {
	buf *bytes.Buffer
}

func (t *bufTarget) Write(p []byte) (int, error) {
	return t.buf.Write(p)
}

// Codec decodes inbound byte buffers into Frames and encodes outbound
// messages into byte buffers, maintaining the outgoing sequence counter.
type Codec struct {
	ownSystemID    byte
	ownComponentID byte

	mu     sync.Mutex
	target *bufTarget
	writer *frame.Writer
}

// NewCodec creates a Codec that signs outbound frames with the given
// system/component IDs.
func NewCodec(ownSystemID, ownComponentID byte) *Codec {
	target := &bufTarget{buf: &bytes.Buffer{}}
	w, err := frame.NewWriter(frame.WriterConf{
		Writer:         target,
		DialectRW:      dialectRW,
		OutVersion:     frame.V2,
		OutSystemID:    ownSystemID,
		OutComponentID: ownComponentID,
	})
	if err != nil {
		// Only reachable if ownSystemID is 0, which callers never pass; a
		// panic here mirrors the non-recoverable misconfiguration.
		panic(fmt.Sprintf("mavcodec: new writer: %v", err))
	}
	return &Codec{
		ownSystemID:    ownSystemID,
		ownComponentID: ownComponentID,
		target:         target,
		writer:         w,
	}
}

// OwnSystemID returns the system id this codec signs outbound frames with.
func (c *Codec) OwnSystemID() byte { return c.ownSystemID }

// OwnComponentID returns the component id this codec signs outbound frames with.
func (c *Codec) OwnComponentID() byte { return c.ownComponentID }

// Decode drains every MAVLink v1/v2 frame out of buf. Multiple frames in one
// datagram are accepted and all returned, per spec.md §4.2/§6.
func (c *Codec) Decode(buf []byte) ([]Frame, error) {
	r, err := frame.NewReader(frame.ReaderConf{
		Reader:    bytes.NewReader(buf),
		DialectRW: dialectRW,
	})
	if err != nil {
		return nil, fmt.Errorf("decode mavlink frame: %w", err)
	}

	var out []Frame
	for {
		fr, err := r.Read()
		if err != nil {
			// A short trailing fragment is not an error for the caller:
			// everything decodable so far is still delivered.
			if len(out) > 0 {
				return out, nil
			}
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("decode mavlink frame: %w", err)
		}
		out = append(out, Frame{
			SystemID:    fr.GetSystemID(),
			ComponentID: fr.GetComponentID(),
			Message:     fr.GetMessage(),
		})
	}
}

// Encode serializes msg as a MAVLink v2 frame addressed from this codec's
// own system/component identity.
func (c *Codec) Encode(msg message.Message) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.target.buf = &bytes.Buffer{}
	if err := c.writer.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("encode mavlink frame: %w", err)
	}
	return c.target.buf.Bytes(), nil
}
