package mentor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/lokeshkhabiya/round0/internal/utils"
)

const (
	FrameTextDelta = "text-delta"
	FrameError     = "error"

	// DoneSentinel terminates a stream. It is sent as a bare data payload.
	DoneSentinel = "[DONE]"
)

type Frame struct {
	Type    string `json:"type"`
	Delta   string `json:"delta,omitempty"`
	Message string `json:"message,omitempty"`
}

// Decoder turns a byte stream of "data:" frames into Frames. Input may be split
// anywhere, including inside a line or a UTF-8 sequence; incomplete lines are
// buffered until their delimiter arrives. Malformed frames are skipped.
type Decoder struct {
	buf       []byte
	dataLines []string
	done      bool

	// Skipped counts frames dropped as malformed.
	Skipped int
	// OnSkip, when set, sees every decode error. Decoding always continues.
	OnSkip func(err error)
}

// Feed consumes p and returns the frames it completed. After the sentinel,
// further input is ignored.
func (d *Decoder) Feed(p []byte) []Frame {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var out []Frame
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(d.buf[:i], []byte("\r")))
		d.buf = d.buf[i+1:]

		if f, ok := d.line(line); ok {
			out = append(out, f)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush completes a trailing frame that was not followed by a blank line,
// e.g. when the connection closed right after the last data line.
func (d *Decoder) Flush() []Frame {
	if d.done {
		return nil
	}
	var out []Frame
	if len(d.buf) > 0 {
		line := strings.TrimSuffix(string(d.buf), "\r")
		d.buf = nil
		if f, ok := d.line(line); ok {
			out = append(out, f)
		}
	}
	if f, ok := d.dispatch(); ok {
		out = append(out, f)
	}
	return out
}

// Done reports whether the sentinel was seen.
func (d *Decoder) Done() bool { return d.done }

func (d *Decoder) line(line string) (Frame, bool) {
	if line == "" {
		return d.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Frame{}, false
	}
	field, value := splitField(line)
	if field == "data" {
		d.dataLines = append(d.dataLines, value)
	}
	return Frame{}, false
}

func (d *Decoder) dispatch() (Frame, bool) {
	if len(d.dataLines) == 0 {
		return Frame{}, false
	}
	payload := strings.Join(d.dataLines, "\n")
	d.dataLines = d.dataLines[:0]

	if strings.TrimSpace(payload) == DoneSentinel {
		d.done = true
		return Frame{}, false
	}

	var f Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.skip(utils.E(utils.CodeStreamDecodeError, "mentor.Decoder", "malformed frame", err))
		return Frame{}, false
	}
	switch f.Type {
	case FrameTextDelta, FrameError:
		return f, true
	default:
		d.skip(utils.E(utils.CodeStreamDecodeError, "mentor.Decoder", fmt.Sprintf("unknown frame type %q", f.Type), nil))
		return Frame{}, false
	}
}

func (d *Decoder) skip(err error) {
	d.Skipped++
	if d.OnSkip != nil {
		d.OnSkip(err)
	}
}

func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	field = line[:i]
	value = strings.TrimPrefix(line[i+1:], " ")
	return field, value
}

// Writer emits frames on an HTTP response, flushing after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: f}, nil
}

func (sw *Writer) Delta(delta string) error {
	return sw.send(Frame{Type: FrameTextDelta, Delta: delta})
}

func (sw *Writer) Error(message string) error {
	return sw.send(Frame{Type: FrameError, Message: message})
}

func (sw *Writer) Done() error {
	return sw.write([]byte("data: " + DoneSentinel + "\n\n"))
}

func (sw *Writer) send(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return sw.write(EncodeFrame(b))
}

func (sw *Writer) write(p []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, err := sw.w.Write(p); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// EncodeFrame wraps a JSON payload as one frame. Payloads containing newlines are
// split across data lines.
func EncodeFrame(payload []byte) []byte {
	var b bytes.Buffer
	for _, line := range bytes.Split(payload, []byte("\n")) {
		b.WriteString("data: ")
		b.Write(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}
