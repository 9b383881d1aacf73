package apmz

import (
	"maps"
	"strings"
)

// Context is the user and HTTP data attached to a transaction or error.
type Context struct {
	Labels   map[string]any
	Custom   map[string]any
	User     *User
	Request  *Request
	Response *Response
}

// User identifies the end user behind a transaction.
type User struct {
	ID       string
	Email    string
	Username string
}

// Request is a snapshot of an inbound HTTP request.
type Request struct {
	Headers map[string]string
	Method  string
	URL     string
}

// Response is a snapshot of an HTTP response.
type Response struct {
	Headers    map[string]string
	StatusCode int
}

var labelKeyReplacer = strings.NewReplacer(".", "_", "*", "_", `"`, "_")

// SanitizeLabelKey replaces the characters a collector rejects in label keys.
func SanitizeLabelKey(key string) string {
	return labelKeyReplacer.Replace(key)
}

// NormalizeLabelValue keeps strings, bools and numbers; anything else is
// stored as nil so that the wire schema stays closed.
func NormalizeLabelValue(value any) any {
	switch v := value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	default:
		return nil
	}
}

func (c *Context) setLabel(key string, value any) {
	if c.Labels == nil {
		c.Labels = make(map[string]any)
	}
	c.Labels[SanitizeLabelKey(key)] = NormalizeLabelValue(value)
}

// clone copies the maps and pointers so the result can be read after the
// source keeps changing.
func (c *Context) clone() *Context {
	if c == nil {
		return nil
	}
	out := &Context{
		Labels: maps.Clone(c.Labels),
		Custom: maps.Clone(c.Custom),
	}
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	if c.Request != nil {
		r := *c.Request
		r.Headers = maps.Clone(c.Request.Headers)
		out.Request = &r
	}
	if c.Response != nil {
		r := *c.Response
		r.Headers = maps.Clone(c.Response.Headers)
		out.Response = &r
	}
	return out
}
