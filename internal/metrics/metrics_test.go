package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/smithy-go/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountAPICalls(t *testing.T) {
	stack := middleware.NewStack("DescribeRule", func() interface{} { return nil })
	require.NoError(t, CountAPICalls(stack))

	// registered by every SDK client ahead of API options
	require.NoError(t, stack.Initialize.Add(&awsmiddleware.RegisterServiceMetadata{
		ServiceID:     "EventBridge",
		OperationName: "DescribeRule",
	}, middleware.Before))

	before := testutil.ToFloat64(APICalls.WithLabelValues("EventBridge", "DescribeRule"))

	handler := middleware.DecorateHandler(middleware.HandlerFunc(
		func(ctx context.Context, in interface{}) (interface{}, middleware.Metadata, error) {
			return nil, middleware.Metadata{}, nil
		}), stack)

	_, _, err := handler.Handle(context.Background(), struct{}{})
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(APICalls.WithLabelValues("EventBridge", "DescribeRule")))
}

func TestWriteFile(t *testing.T) {
	TagMutations.WithLabelValues("add").Inc()

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "picklr_aws_tag_mutations_total")
}
