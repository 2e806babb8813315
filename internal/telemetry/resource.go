package telemetry

import (
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Resource is the immutable identity attached to every signal a process
// exports. InstanceID is generated once, when the Resource is built.
type Resource struct {
	ServiceName string
	InstanceID  string
	Environment string
	Version     string

	otel *resource.Resource
}

// NewResource builds the process identity with a fresh instance id.
func NewResource(serviceName, environment, version string) *Resource {
	r := &Resource{
		ServiceName: serviceName,
		InstanceID:  uuid.NewString(),
		Environment: environment,
		Version:     version,
	}
	// Note: We create a standalone resource to avoid schema URL conflicts
	// with resource.Default() which uses a different semconv version
	r.otel = resource.NewWithAttributes(semconv.SchemaURL, r.Attributes()...)
	return r
}

// Attributes returns the resource attributes using semantic convention keys.
func (r *Resource) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(r.ServiceName),
		semconv.ServiceInstanceID(r.InstanceID),
		semconv.DeploymentEnvironment(r.Environment),
		semconv.ServiceVersion(r.Version),
	}
}

// OTel returns the SDK resource shared by the trace, metric and log providers.
func (r *Resource) OTel() *resource.Resource {
	return r.otel
}
