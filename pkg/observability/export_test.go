package observability

import (
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ProbeBuildResource exposes buildResource for external tests.
func ProbeBuildResource(cfg Config) (*sdkresource.Resource, error) {
	return buildResource(cfg)
}

// ProbeSampler exposes selectSampler for external tests.
func ProbeSampler(cfg Config) sdktrace.Sampler {
	return selectSampler(cfg)
}
