package models

type EnvelopeBuilder struct {
	envelope *Envelope
}

func NewEnvelopeBuilder(subject string) *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: NewEnvelope(subject),
	}
}

func (b *EnvelopeBuilder) WithHost(host string) *EnvelopeBuilder {
	b.envelope.Host = host
	return b
}

func (b *EnvelopeBuilder) WithContentType(contentType string) *EnvelopeBuilder {
	b.envelope.ResponseContentType = contentType
	return b
}

func (b *EnvelopeBuilder) WithRequestHeader(key, value string) *EnvelopeBuilder {
	b.envelope.RequestHeaders[key] = value
	return b
}

func (b *EnvelopeBuilder) WithCookie(key, value string) *EnvelopeBuilder {
	b.envelope.Cookies[key] = value
	return b
}

func (b *EnvelopeBuilder) WithQueryParam(key, value string) *EnvelopeBuilder {
	b.envelope.QueryParams[key] = value
	return b
}

func (b *EnvelopeBuilder) WithExtendedProperty(key string, value interface{}) *EnvelopeBuilder {
	b.envelope.ExtendedProperties[key] = value
	return b
}

func (b *EnvelopeBuilder) WithRequestBody(body string) *EnvelopeBuilder {
	b.envelope.RequestBody = body
	return b
}

func (b *EnvelopeBuilder) WithStartedAtMs(ms int64) *EnvelopeBuilder {
	b.envelope.StartedAtMs = ms
	return b
}

func (b *EnvelopeBuilder) Build() *Envelope {
	return b.envelope
}
