package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// MaxFrameSize is the largest payload a single UDP datagram can carry
const MaxFrameSize = 65507

var (
	ErrFraming       = errors.New("framing error")
	ErrFrameTooLarge = errors.New("frame exceeds datagram size")
	ErrFieldKey      = errors.New("invalid field key")
	ErrFieldValue    = errors.New("invalid field value")
)

// Field is a single KEY: value line
type Field struct {
	Key   string
	Value string
}

// Frame is an ordered set of fields as carried in one datagram.
// Setting an existing key replaces its value and keeps its position.
type Frame struct {
	fields []Field
	index  map[string]int
}

// NewFrame creates an empty frame
func NewFrame() *Frame {
	return &Frame{index: make(map[string]int)}
}

// NewTypedFrame creates a frame whose first field is TYPE
func NewTypedFrame(t MessageType) *Frame {
	f := NewFrame()
	f.Set(FieldType, string(t))
	return f
}

// Set stores a field. Values are trimmed the same way Decode trims them.
func (f *Frame) Set(key, value string) {
	if IsMultiLine(key) {
		value = trimLines(value)
	} else {
		value = strings.TrimSpace(value)
	}
	if i, ok := f.index[key]; ok {
		f.fields[i].Value = value
		return
	}
	f.index[key] = len(f.fields)
	f.fields = append(f.fields, Field{Key: key, Value: value})
}

// SetIfNotEmpty stores a field only when value is non-empty
func (f *Frame) SetIfNotEmpty(key, value string) {
	if value != "" {
		f.Set(key, value)
	}
}

// Get returns the value for key or "" when absent
func (f *Frame) Get(key string) string {
	v, _ := f.Lookup(key)
	return v
}

// Lookup returns the value for key and whether it was present
func (f *Frame) Lookup(key string) (string, bool) {
	i, ok := f.index[key]
	if !ok {
		return "", false
	}
	return f.fields[i].Value, true
}

// Has reports whether key is present
func (f *Frame) Has(key string) bool {
	_, ok := f.index[key]
	return ok
}

// Fields returns a copy of the fields in insertion order
func (f *Frame) Fields() []Field {
	out := make([]Field, len(f.fields))
	copy(out, f.fields)
	return out
}

// Len returns the number of fields
func (f *Frame) Len() int {
	return len(f.fields)
}

// Type returns the TYPE field
func (f *Frame) Type() MessageType {
	return MessageType(f.Get(FieldType))
}

// Sender returns the declared origin, USER_ID for presence and posts, FROM otherwise
func (f *Frame) Sender() string {
	if v := f.Get(FieldUserID); v != "" {
		return v
	}
	return f.Get(FieldFrom)
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := NewFrame()
	for _, fl := range f.fields {
		c.index[fl.Key] = len(c.fields)
		c.fields = append(c.fields, fl)
	}
	return c
}

// Encode serializes the frame as KEY: value lines followed by a blank line
func (f *Frame) Encode() ([]byte, error) {
	if len(f.fields) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrFraming)
	}

	var buf bytes.Buffer
	for _, fl := range f.fields {
		if err := validateField(fl); err != nil {
			return nil, err
		}
		buf.WriteString(fl.Key)
		buf.WriteString(": ")
		buf.WriteString(fl.Value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if buf.Len() > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses one datagram into a frame.
// A datagram without the terminating blank line is rejected with ErrFraming.
func DecodeFrame(data []byte) (*Frame, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasSuffix(text, "\n\n") {
		return nil, fmt.Errorf("%w: missing terminating blank line", ErrFraming)
	}

	f := NewFrame()
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	continuing := ""
	terminated := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if terminated {
			if trimmed != "" {
				return nil, fmt.Errorf("%w: data after terminating blank line", ErrFraming)
			}
			continue
		}

		if trimmed == "" {
			terminated = true
			continue
		}

		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			if continuing != "" {
				f.appendLine(continuing, trimmed)
			}
			continue
		}

		key := strings.TrimSpace(trimmed[:idx])
		if key == "" {
			continuing = ""
			continue
		}
		f.Set(key, trimmed[idx+1:])

		continuing = ""
		if IsMultiLine(key) {
			continuing = key
		}
	}

	if len(f.fields) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrFraming)
	}
	return f, nil
}

func (f *Frame) appendLine(key, line string) {
	i := f.index[key]
	if f.fields[i].Value == "" {
		f.fields[i].Value = line
		return
	}
	f.fields[i].Value += "\n" + line
}

func validateField(fl Field) error {
	if fl.Key == "" || strings.ContainsAny(fl.Key, ":\r\n") || strings.TrimSpace(fl.Key) != fl.Key {
		return fmt.Errorf("%w: %q", ErrFieldKey, fl.Key)
	}

	if !IsMultiLine(fl.Key) {
		if strings.ContainsAny(fl.Value, "\r\n") {
			return fmt.Errorf("%w: %s must be a single line", ErrFieldValue, fl.Key)
		}
		return nil
	}

	// continuation lines must survive the decoder unchanged
	lines := strings.Split(fl.Value, "\n")
	for i, line := range lines[1:] {
		if line == "" || strings.ContainsRune(line, ':') {
			return fmt.Errorf("%w: %s line %d cannot be continued", ErrFieldValue, fl.Key, i+2)
		}
	}
	return nil
}

func trimLines(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(value), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "\n")
}
