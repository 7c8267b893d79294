// Package metrics counts remote calls made while managing resources.
package metrics

import (
	"context"
	"fmt"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/smithy-go/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "picklr_aws"

var (
	// Registry holds every collector in this package.
	Registry = prometheus.NewRegistry()

	APICalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_calls_total",
		Help:      "AWS API operations invoked, including retried attempts.",
	}, []string{"service", "operation"})

	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "AWS API attempts retried by the configured retry condition.",
	}, []string{"service", "operation"})

	TagMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tag_mutations_total",
		Help:      "Tag add and remove calls issued by tag reconciliation.",
	}, []string{"action"})

	PollIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_iterations_total",
		Help:      "Status checks performed while waiting on asynchronous operations.",
	}, []string{"operation"})
)

func init() {
	Registry.MustRegister(APICalls, Retries, TagMutations, PollIterations)
}

// WriteFile writes the registry in the text exposition format.
func WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// OperationLabels returns the service and operation names recorded on ctx
// by the SDK.
func OperationLabels(ctx context.Context) (string, string) {
	return awsmiddleware.GetServiceID(ctx), awsmiddleware.GetOperationName(ctx)
}

// CountAPICalls adds an Initialize middleware that counts operations.
func CountAPICalls(stack *middleware.Stack) error {
	return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("PicklrCountAPICalls",
		func(ctx context.Context, in middleware.InitializeInput, next middleware.InitializeHandler) (middleware.InitializeOutput, middleware.Metadata, error) {
			APICalls.WithLabelValues(OperationLabels(ctx)).Inc()
			return next.HandleInitialize(ctx, in)
		}), middleware.After)
}
