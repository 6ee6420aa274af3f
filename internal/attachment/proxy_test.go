package attachment

import (
	"context"
	"io"
	"strings"
	"testing"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	objects map[string]string
}

func (f *fakeBucket) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func navigationHeaders() map[string]string {
	return map[string]string{
		"sec-fetch-mode": "navigate",
		"sec-fetch-site": "cross-site",
		"sec-fetch-user": "?1",
		"sec-fetch-dest": "document",
	}
}

func newTestProxy(objects map[string]string) *Proxy {
	return NewProxy(&fakeBucket{objects: objects}, "reports", "SpaExceptions", quietLogger())
}

func TestProxyServesDocument(t *testing.T) {
	proxy := newTestProxy(map[string]string{
		"SpaExceptions/123456789012/2026-08-123456789012-cost-and-usage.csv": "Start,End\n",
	})

	response, err := proxy.HandleRequest(context.Background(), lambdaevents.LambdaFunctionURLRequest{
		RawPath: "/123456789012/2026-08-123456789012-cost-and-usage.csv",
		Headers: navigationHeaders(),
	})
	require.NoError(t, err)
	assert.Equal(t, 200, response.StatusCode)
	assert.Equal(t, "Start,End\n", response.Body)
	assert.Equal(t, "text/csv", response.Headers["Content-Type"])
	assert.Contains(t, response.Headers["Content-Disposition"], "2026-08-123456789012-cost-and-usage.csv")
}

func TestProxyRejectsNonNavigationRequests(t *testing.T) {
	proxy := newTestProxy(nil)

	headers := navigationHeaders()
	delete(headers, "sec-fetch-user")
	response, err := proxy.HandleRequest(context.Background(), lambdaevents.LambdaFunctionURLRequest{
		RawPath: "/whatever.csv",
		Headers: headers,
	})
	require.NoError(t, err)
	assert.Equal(t, 403, response.StatusCode)
}

func TestProxyRejectsTraversalPaths(t *testing.T) {
	proxy := newTestProxy(nil)

	response, err := proxy.HandleRequest(context.Background(), lambdaevents.LambdaFunctionURLRequest{
		RawPath: "/../secrets.csv",
		Headers: navigationHeaders(),
	})
	require.NoError(t, err)
	assert.Equal(t, 400, response.StatusCode)
}

func TestProxyReportsMissingObject(t *testing.T) {
	proxy := newTestProxy(nil)

	response, err := proxy.HandleRequest(context.Background(), lambdaevents.LambdaFunctionURLRequest{
		RawPath: "/unknown.csv",
		Headers: navigationHeaders(),
	})
	require.NoError(t, err)
	assert.Equal(t, 404, response.StatusCode)
}
