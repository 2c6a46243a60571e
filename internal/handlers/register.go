package handlers

import (
	"natsgate/internal/broker"
	"natsgate/internal/config"
	"natsgate/internal/logger"
	"natsgate/internal/microservice"
)

// Names used by subscription config to bind subjects to handlers.
const (
	NameHealthcheck    = "healthcheck"
	NameTracing        = "tracing"
	NameAuthentication = "authentication"
	NameGetCustomer    = "get-customer"
	NameSaveCustomer   = "save-customer"
	NameDeleteCustomer = "delete-customer"
	NameLogging        = "logging"
	NameMetrics        = "metrics"
	NameAudit          = "audit"
)

type Deps struct {
	Customers       CustomerRepository
	Producer        broker.Producer // nil disables the audit observer
	AuditTopic      string
	TraceHeaderName string
	AuthRedirectURL string
	Logger          logger.Logger
}

// Register binds every example step and observer into r.
func Register(r *microservice.Registry, deps Deps) {
	log := deps.Logger
	if log == nil {
		log = logger.NopLogger()
	}
	customers := deps.Customers
	if customers == nil {
		customers = NewMemoryCustomerRepository(SampleCustomers()...)
	}

	r.RegisterHandler(NameHealthcheck, func() microservice.Handler { return HealthcheckHandler{} })
	r.RegisterHandler(NameTracing, func() microservice.Handler {
		return TracingHandler{HeaderName: deps.TraceHeaderName}
	})
	r.RegisterHandler(NameAuthentication, func() microservice.Handler {
		return AuthenticationHandler{RedirectURL: deps.AuthRedirectURL}
	})
	r.RegisterHandler(NameGetCustomer, func() microservice.Handler { return GetCustomerHandler{Repo: customers} })
	r.RegisterHandler(NameSaveCustomer, func() microservice.Handler { return SaveCustomerHandler{Repo: customers} })
	r.RegisterHandler(NameDeleteCustomer, func() microservice.Handler { return DeleteCustomerHandler{} })

	r.RegisterObserver(NameLogging, func() microservice.Observer { return LoggingObserver{Log: log} })
	r.RegisterObserver(NameMetrics, func() microservice.Observer { return MetricsObserver{Log: log} })
	if deps.Producer != nil {
		r.RegisterObserver(NameAudit, func() microservice.Observer {
			return AuditObserver{Producer: deps.Producer, Topic: deps.AuditTopic}
		})
	}
}

// DefaultSubscriptions binds the example steps to the subjects used by the
// sample pipeline. Used when no subscriptions are configured.
func DefaultSubscriptions() []config.SubscriptionConfig {
	return []config.SubscriptionConfig{
		{Subject: "get.healthcheck", Handler: NameHealthcheck},
		{Subject: "pipeline.tracing", Handler: NameTracing},
		{Subject: "pipeline.authentication", Handler: NameAuthentication},
		{Subject: "get.customers", Handler: NameGetCustomer},
		{Subject: "get.customers.*", Handler: NameGetCustomer},
		{Subject: "post.customers", Handler: NameSaveCustomer},
		{Subject: "put.customers.*", Handler: NameSaveCustomer},
		{Subject: "delete.customers.*", Handler: NameDeleteCustomer},
		{Subject: "pipeline.logging", Handler: NameLogging},
		{Subject: "pipeline.metrics", Handler: NameMetrics},
	}
}
