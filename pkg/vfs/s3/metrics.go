package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Metrics observes the requests the backend sends to S3.
type Metrics interface {
	// ObserveRequest records one request.
	//
	// Parameters:
	//   - operation: S3 API name (e.g., "GetObject", "PutObject")
	//   - duration: Time until the response headers arrived
	//   - bytes: Body bytes transferred, 0 for requests without a body
	//   - err: Error if the request failed, nil otherwise
	ObserveRequest(operation string, duration time.Duration, bytes int64, err error)
}

// WithMetrics wraps client so that every request is reported to m. A nil m
// returns client unchanged.
func WithMetrics(client Client, m Metrics) Client {
	if m == nil {
		return client
	}
	return &instrumentedClient{Client: client, m: m}
}

type instrumentedClient struct {
	Client
	m Metrics
}

func (c *instrumentedClient) observe(op string, start time.Time, bytes int64, err error) {
	c.m.ObserveRequest(op, time.Since(start), bytes, err)
}

func (c *instrumentedClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	start := time.Now()
	out, err := c.Client.HeadBucket(ctx, in, optFns...)
	c.observe("HeadBucket", start, 0, err)
	return out, err
}

func (c *instrumentedClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	out, err := c.Client.HeadObject(ctx, in, optFns...)
	c.observe("HeadObject", start, 0, err)
	return out, err
}

func (c *instrumentedClient) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	start := time.Now()
	out, err := c.Client.GetObject(ctx, in, optFns...)
	var n int64
	if err == nil {
		n = aws.ToInt64(out.ContentLength)
	}
	c.observe("GetObject", start, n, err)
	return out, err
}

func (c *instrumentedClient) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	start := time.Now()
	out, err := c.Client.PutObject(ctx, in, optFns...)
	c.observe("PutObject", start, aws.ToInt64(in.ContentLength), err)
	return out, err
}

func (c *instrumentedClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	start := time.Now()
	out, err := c.Client.CopyObject(ctx, in, optFns...)
	c.observe("CopyObject", start, 0, err)
	return out, err
}

func (c *instrumentedClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	start := time.Now()
	out, err := c.Client.DeleteObject(ctx, in, optFns...)
	c.observe("DeleteObject", start, 0, err)
	return out, err
}

func (c *instrumentedClient) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	start := time.Now()
	out, err := c.Client.DeleteObjects(ctx, in, optFns...)
	c.observe("DeleteObjects", start, 0, err)
	return out, err
}

func (c *instrumentedClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := time.Now()
	out, err := c.Client.ListObjectsV2(ctx, in, optFns...)
	c.observe("ListObjectsV2", start, 0, err)
	return out, err
}
