package serializers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zoobzio/apmz"
)

// Encoder writes events as newline delimited JSON, the intake v2 stream
// format. The first line of every stream is the metadata object.
type Encoder struct {
	w         *bufio.Writer
	enc       *json.Encoder
	container *Container
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Encoder{w: bw, enc: enc, container: New()}
}

// WriteMetadata writes the metadata line.
func (e *Encoder) WriteMetadata(md *apmz.Metadata) error {
	return e.WriteEvent(md)
}

// WriteEvent serializes ev and writes it as one line.
func (e *Encoder) WriteEvent(ev apmz.Event) error {
	body, err := e.container.Serialize(ev)
	if err != nil {
		return err
	}
	return e.write(body)
}

// WritePayloads writes payloads produced by apmz.Agent.Flush.
func (e *Encoder) WritePayloads(payloads []apmz.Payload) error {
	for _, p := range payloads {
		if err := e.write(p.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) write(body map[string]any) error {
	if err := e.enc.Encode(body); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

// Flush writes any buffered lines to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}
