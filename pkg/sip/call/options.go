package call

import "github.com/tanbro/sipua/pkg/sip/message"

type options struct {
	route       string
	subject     string
	contentType string
	body        []byte
	headers     []message.Header
	reason      string
}

// Option adds optional parts to an outgoing request or response.
type Option func(*options)

// WithRoute sends an out-of-dialog request through a proxy.
func WithRoute(route string) Option {
	return func(o *options) { o.route = route }
}

func WithSubject(subject string) Option {
	return func(o *options) { o.subject = subject }
}

// WithBody sets the message body and its Content-Type.
func WithBody(contentType string, body []byte) Option {
	return func(o *options) { o.contentType, o.body = contentType, body }
}

// WithHeader appends a header. It may be given several times.
func WithHeader(name, value string) Option {
	return func(o *options) {
		o.headers = append(o.headers, message.Header{Name: name, Value: value})
	}
}

// WithReason overrides the reason phrase of a response.
func WithReason(reason string) Option {
	return func(o *options) { o.reason = reason }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// requestOptions converts o for message.BuildRequest.
func (o options) requestOptions() []message.RequestOption {
	var out []message.RequestOption
	if o.route != "" {
		out = append(out, message.WithRoute(looseRoute(o.route)))
	}
	if o.subject != "" {
		out = append(out, message.WithSubject(o.subject))
	}
	if len(o.body) > 0 {
		out = append(out, message.WithBody(o.contentType, o.body))
	}
	for _, h := range o.headers {
		out = append(out, message.WithHeader(h.Name, h.Value))
	}
	return out
}

func (o options) has(name string) bool {
	for _, h := range o.headers {
		if message.SameName(h.Name, name) {
			return true
		}
	}
	return false
}

// apply adds headers and body to an already built message.
func (o options) apply(msg message.Message) {
	if o.subject != "" {
		msg.SetHeader("Subject", o.subject)
	}
	for _, h := range o.headers {
		msg.AddHeader(h.Name, h.Value)
	}
	if len(o.body) > 0 {
		msg.SetHeader("Content-Type", o.contentType)
		msg.SetBody(o.body)
	}
}
