package constants

import "time"

const (
	ShutdownTimeout        = 5 * time.Second
	ObserverDrainTimeout   = 5 * time.Second
	HealthCheckTimeout     = 5 * time.Second
	HandlerDispatchTimeout = 30 * time.Second
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	// WildcardSubject in a step means "the envelope's own subject".
	WildcardSubject = "*"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionBoth     = "both"
)

const (
	PatternRequest = "request"
	PatternPublish = "publish"
)

const (
	BrokerTypeNATS   = "nats"
	BrokerTypeMemory = "memory"
)

const (
	ServiceNameGateway         = "gateway"
	ServiceNameExampleHandlers = "example-handlers"
)
