package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeObject is one stored object of fakeClient.
type fakeObject struct {
	data     []byte
	modified time.Time
	metadata map[string]string
}

// fakeClient is an in-memory bucket implementing Client.
type fakeClient struct {
	bucket string

	mu      sync.Mutex
	objects map[string]*fakeObject
	ranges  []string
	full    []string
}

func newFakeClient(bucket string) *fakeClient {
	return &fakeClient{bucket: bucket, objects: make(map[string]*fakeObject)}
}

func (c *fakeClient) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *fakeClient) checkBucket(bucket *string) error {
	if aws.ToString(bucket) != c.bucket {
		return &types.NoSuchBucket{}
	}
	return nil
}

func (c *fakeClient) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
		Metadata:      obj.metadata,
	}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := aws.ToString(in.Key)
	obj, ok := c.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := obj.data
	if in.Range != nil {
		c.ranges = append(c.ranges, *in.Range)
		spec := strings.TrimPrefix(*in.Range, "bytes=")
		from, to, _ := strings.Cut(spec, "-")
		start, _ := strconv.ParseInt(from, 10, 64)
		end, _ := strconv.ParseInt(to, 10, 64)
		if start >= int64(len(data)) {
			return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: "range not satisfiable"}
		}
		data = data[start:min(end+1, int64(len(data)))]
	} else {
		c.full = append(c.full, key)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(bytes.Clone(data))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[aws.ToString(in.Key)] = &fakeObject{data: data, modified: time.Now(), metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	bucket, key, _ := strings.Cut(source, "/")
	if bucket != c.bucket {
		return nil, fmt.Errorf("copy from foreign bucket %q", bucket)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	metadata := src.metadata
	if in.MetadataDirective == types.MetadataDirectiveReplace {
		metadata = in.Metadata
	}
	c.objects[aws.ToString(in.Key)] = &fakeObject{data: bytes.Clone(src.data), modified: time.Now(), metadata: metadata}
	return &s3.CopyObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(c.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

// ListObjectsV2 pages through keys in order, folding keys below the
// delimiter into common prefixes. The continuation token is the last name
// returned.
func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	after := aws.ToString(in.ContinuationToken)
	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}

	type item struct {
		name   string
		prefix bool
	}
	var items []item
	for _, key := range c.keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, delimiter); delimiter != "" && i >= 0 {
			cp := prefix + rest[:i+1]
			if len(items) == 0 || items[len(items)-1].name != cp {
				items = append(items, item{name: cp, prefix: true})
			}
			continue
		}
		items = append(items, item{name: key})
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	count := 0
	for _, it := range items {
		if after != "" && it.name <= after {
			continue
		}
		if count == limit {
			out.IsTruncated = aws.Bool(true)
			break
		}
		c.mu.Lock()
		obj := c.objects[it.name]
		c.mu.Unlock()
		if it.prefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.name)})
		} else if obj != nil {
			out.Contents = append(out.Contents, types.Object{
				Key:          aws.String(it.name),
				Size:         aws.Int64(int64(len(obj.data))),
				LastModified: aws.Time(obj.modified),
			})
		}
		out.NextContinuationToken = aws.String(it.name)
		count++
	}
	if !aws.ToBool(out.IsTruncated) {
		out.NextContinuationToken = nil
	}
	return out, nil
}

var _ Client = (*fakeClient)(nil)
