package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/yashrajoria/pos-terminal/pkg/aws"
)

// MetricsMiddleware records request counts and latency to CloudWatch. A nil
// or disabled client turns it into a pass-through.
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsClient == nil || !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    c.FullPath(),
			"Status":  statusCodeToRange(statusCode),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTPRequests, dimensions)
			_ = metricsClient.RecordLatency(ctx, awspkg.MetricHTTPLatency, duration, dimensions)
			switch {
			case statusCode >= 500:
				_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTP5xx, dimensions)
			case statusCode >= 400:
				_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTP4xx, dimensions)
			}
		}()
	}
}

func statusCodeToRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
