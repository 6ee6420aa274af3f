// Package attachment serves stored exception reports over a public web
// endpoint, gated so that only console-driven navigation gets through.
package attachment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// requiredHeaders enforce navigation from a browser document load.
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Sec-Fetch-Mode
var requiredHeaders = map[string]string{
	"sec-fetch-mode": "navigate",
	"sec-fetch-site": "cross-site",
	"sec-fetch-user": "?1",
	"sec-fetch-dest": "document",
}

// S3API is the subset of the object service used by the proxy.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Proxy fetches one report object per request and forces its download.
type Proxy struct {
	store  S3API
	bucket string
	prefix string
	logger *logrus.Logger
}

func NewProxy(store S3API, bucket, prefix string, logger *logrus.Logger) *Proxy {
	return &Proxy{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// HandleRequest gates and serves one download request.
func (p *Proxy) HandleRequest(ctx context.Context, request lambdaevents.LambdaFunctionURLRequest) (lambdaevents.LambdaFunctionURLResponse, error) {
	for key, expected := range requiredHeaders {
		if request.Headers[key] != expected {
			p.logger.Warnf("403 - Missing header: '%s': '%s'", key, expected)
			return errorResponse(403, "You are not allowed to fetch this document"), nil
		}
	}

	rawPath := request.RawPath
	if strings.Contains(rawPath, "..") || strings.Contains(rawPath, "?") {
		p.logger.Warn("400 - Dangerous link detected. We do not handle this request.")
		return errorResponse(400, "Invalid path has been requested"), nil
	}

	key := p.prefix + "/" + strings.TrimPrefix(rawPath, "/")
	p.logger.Infof("Looking for object key '%s' in bucket '%s'", key, p.bucket)
	out, err := p.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			p.logger.Warn("404 - Not Found")
			return errorResponse(404, "Unable to find the requested object"), nil
		}
		p.logger.Errorf("500 - Internal Error - %s", err)
		return errorResponse(500, err.Error()), nil
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		p.logger.Errorf("500 - Internal Error - %s", err)
		return errorResponse(500, err.Error()), nil
	}

	p.logger.Debugf("Transmitting %d bytes", len(body))
	return lambdaevents.LambdaFunctionURLResponse{
		StatusCode: 200,
		Headers: map[string]string{
			"Content-Type":        "text/csv",
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", path.Base(key)), // force download
		},
		Body: string(body),
	}, nil
}

func errorResponse(status int, message string) lambdaevents.LambdaFunctionURLResponse {
	body, _ := json.Marshal(map[string]string{"error": message})
	return lambdaevents.LambdaFunctionURLResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
