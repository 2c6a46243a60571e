package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StatusCodeUnset marks a response status that no step has assigned yet.
const StatusCodeUnset = -1

// Envelope is the unit of work carried from HTTP ingress, through every pipeline
// step on the bus, and back out as the HTTP response.
type Envelope struct {
	Subject                string                 `json:"subject"`
	StartedAtMs            int64                  `json:"startedAtMs"`
	CompletedAtMs          int64                  `json:"completedAtMs"`
	Host                   string                 `json:"host"`
	RequestHeaders         map[string]interface{} `json:"requestHeaders"`
	Cookies                map[string]interface{} `json:"cookies"`
	QueryParams            map[string]interface{} `json:"queryParams"`
	ExtendedProperties     map[string]interface{} `json:"extendedProperties"`
	RequestBody            string                 `json:"requestBody"`
	ResponseBody           string                 `json:"responseBody"`
	ResponseStatusCode     int                    `json:"responseStatusCode"`
	ResponseContentType    string                 `json:"responseContentType"`
	ResponseHeaders        map[string]string      `json:"responseHeaders"`
	ErrorMessage           string                 `json:"errorMessage,omitempty"`
	ShouldTerminateRequest bool                   `json:"shouldTerminateRequest"`
	CallTimings            []CallTiming           `json:"callTimings"`
}

// CallTiming is the wall-clock duration of one executed step.
type CallTiming struct {
	Subject   string `json:"subject"`
	ElapsedMs int64  `json:"elapsedMs"`
}

func NewEnvelope(subject string) *Envelope {
	return &Envelope{
		Subject:            subject,
		StartedAtMs:        time.Now().UnixMilli(),
		RequestHeaders:     make(map[string]interface{}),
		Cookies:            make(map[string]interface{}),
		QueryParams:        make(map[string]interface{}),
		ExtendedProperties: make(map[string]interface{}),
		ResponseStatusCode: StatusCodeUnset,
		ResponseHeaders:    make(map[string]string),
		CallTimings:        make([]CallTiming, 0),
	}
}

// Decode parses a wire payload. Missing maps are allocated and a missing status
// code is treated as unset so partial replies stay usable.
//
// Values inside the interface{} maps decode with encoding/json defaults, so
// every JSON number comes back as float64. An int stored in
// ExtendedProperties reads back as float64(3) after a hop, and integers past
// 2^53 lose precision. Producers needing exact integers should send them as
// strings.
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{ResponseStatusCode: StatusCodeUnset}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	env.ensureMaps()
	return env, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (e *Envelope) ensureMaps() {
	if e.RequestHeaders == nil {
		e.RequestHeaders = make(map[string]interface{})
	}
	if e.Cookies == nil {
		e.Cookies = make(map[string]interface{})
	}
	if e.QueryParams == nil {
		e.QueryParams = make(map[string]interface{})
	}
	if e.ExtendedProperties == nil {
		e.ExtendedProperties = make(map[string]interface{})
	}
	if e.ResponseHeaders == nil {
		e.ResponseHeaders = make(map[string]string)
	}
	if e.CallTimings == nil {
		e.CallTimings = make([]CallTiming, 0)
	}
}

// MarkComplete stamps completedAtMs. Only the first call has an effect.
func (e *Envelope) MarkComplete() {
	if e.CompletedAtMs != 0 {
		return
	}
	e.CompletedAtMs = time.Now().UnixMilli()
}

func (e *Envelope) IsComplete() bool {
	return e.CompletedAtMs != 0
}

// ExecutionTime is zero until the envelope has been marked complete.
func (e *Envelope) ExecutionTime() time.Duration {
	if e.CompletedAtMs == 0 {
		return 0
	}
	return time.Duration(e.CompletedAtMs-e.StartedAtMs) * time.Millisecond
}

func (e *Envelope) RecordTiming(subject string, elapsed time.Duration) {
	e.CallTimings = append(e.CallTimings, CallTiming{
		Subject:   subject,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// Method is the lowercased HTTP method the subject was derived from.
func (e *Envelope) Method() string {
	method, _, _ := strings.Cut(e.Subject, ".")
	return method
}

func (e *Envelope) HasError() bool {
	return e.ErrorMessage != ""
}

// SetError records an application failure with an explicit status code.
func (e *Envelope) SetError(message string, statusCode int) {
	e.ErrorMessage = message
	e.ResponseStatusCode = statusCode
}

// SetResponse JSON-encodes v into the response body.
func (e *Envelope) SetResponse(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response body: %w", err)
	}
	e.ResponseBody = string(body)
	return nil
}

// RequestHeader looks a header up ignoring case, since HTTP header names are
// case-insensitive but the envelope stores them as received.
func (e *Envelope) RequestHeader(name string) (string, bool) {
	if v, ok := e.RequestHeaders[name]; ok {
		return stringify(v), true
	}
	for k, v := range e.RequestHeaders {
		if strings.EqualFold(k, name) {
			return stringify(v), true
		}
	}
	return "", false
}

// TryGetParam searches query parameters, request headers, cookies and extended
// properties, in that order.
func (e *Envelope) TryGetParam(key string) (string, bool) {
	if v, ok := e.QueryParams[key]; ok {
		return stringify(v), true
	}
	if v, ok := e.RequestHeader(key); ok {
		return v, true
	}
	if v, ok := e.Cookies[key]; ok {
		return stringify(v), true
	}
	if v, ok := e.ExtendedProperties[key]; ok {
		return stringify(v), true
	}
	return "", false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
