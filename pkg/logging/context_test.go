package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want []interface{}
	}{
		{
			name: "empty context",
			ctx:  context.Background(),
			want: []interface{}{},
		},
		{
			name: "all fields",
			ctx: WithServiceName(
				WithSubject(WithTraceID(context.Background(), "abc"), "get.orders.1"),
				"gateway",
			),
			want: []interface{}{"trace_id", "abc", "subject", "get.orders.1", "service_name", "gateway"},
		},
		{
			name: "subject only",
			ctx:  WithSubject(context.Background(), "delete.customers.41"),
			want: []interface{}{"subject", "delete.customers.41"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetLogFields(tt.ctx))
		})
	}
}

func TestEarlyLog(t *testing.T) {
	var out, errOut bytes.Buffer
	l := &EarlyLog{service: "gateway", out: &out, errOut: &errOut}

	l.Info("listening on %d", 5000)
	l.Error("bad config: %s", "missing url")

	assert.Equal(t, "INFO [gateway] listening on 5000\n", out.String())
	assert.Equal(t, "ERROR [gateway] bad config: missing url\n", errOut.String())
}
