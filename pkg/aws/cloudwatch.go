package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// CloudWatchLogsClient is an io.Writer that ships each write as one log
// event. It is tee'd into the zap logger.
type CloudWatchLogsClient struct {
	mu            sync.Mutex
	client        *cloudwatchlogs.Client
	logGroupName  string
	logStreamName string
	sequenceToken *string
	enabled       bool
}

// NewCloudWatchLogsClient creates the log group and a per-process stream for
// the given terminal. It is a no-op writer unless CLOUDWATCH_ENABLED=true.
func NewCloudWatchLogsClient(ctx context.Context, cfg aws.Config, terminalID string) (*CloudWatchLogsClient, error) {
	logGroupName := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if logGroupName == "" {
		logGroupName = "/pos/terminals"
	}

	c := &CloudWatchLogsClient{
		client:        cloudwatchlogs.NewFromConfig(cfg),
		logGroupName:  logGroupName,
		logStreamName: fmt.Sprintf("%s-%d", terminalID, time.Now().Unix()),
		enabled:       os.Getenv("CLOUDWATCH_ENABLED") == "true",
	}
	if !c.enabled {
		return c, nil
	}

	_, err := c.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(c.logGroupName),
	})
	var existsErr *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &existsErr) {
		return nil, fmt.Errorf("failed to ensure log group: %w", err)
	}

	if _, err := c.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(c.logGroupName),
		LogStreamName: aws.String(c.logStreamName),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream: %w", err)
	}

	return c, nil
}

// Write implements io.Writer. Delivery failures are reported on stderr and
// never fail the write.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	if !c.enabled {
		return len(p), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := c.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(c.logGroupName),
		LogStreamName: aws.String(c.logStreamName),
		SequenceToken: c.sequenceToken,
		LogEvents: []types.InputLogEvent{{
			Message:   aws.String(string(p)),
			Timestamp: aws.Int64(time.Now().UnixMilli()),
		}},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "CloudWatch write error: %v\n", err)
		return len(p), nil
	}
	c.sequenceToken = out.NextSequenceToken
	return len(p), nil
}

// IsEnabled returns whether CloudWatch logging is enabled
func (c *CloudWatchLogsClient) IsEnabled() bool {
	return c.enabled
}
