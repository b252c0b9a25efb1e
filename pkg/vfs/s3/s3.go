// Package s3 implements a vfs.Backend over an Amazon S3 (or compatible)
// bucket.
//
// Key Design:
//   - A file "/docs/report.pdf" is the object "<key_prefix>docs/report.pdf"
//   - A directory is either an empty marker object ending in "/" or simply
//     the common prefix of the objects below it
//   - The bucket mirrors the tree, so it stays inspectable with any S3 tool
//
// S3 Characteristics:
//   - Reads use ranged GetObject requests and never download whole objects
//   - Objects cannot be patched: a writable handle downloads the object on
//     its first mutation, edits it in memory and uploads it on Flush/Close
//   - Renames are copy + delete, so moving a directory costs one copy per
//     object below it
//
// Metadata:
// Only the size and the write time exist. A write time set through
// SetFileMetadata is kept as the "mtime" user metadata of the object and
// replaced by the upload time on the next upload. Attributes are accepted and
// ignored; security descriptors, alternate streams and authors are not
// supported.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// mtimeKey is the user metadata entry holding an explicit write time.
const mtimeKey = "mtime"

// maxDeleteBatch is the S3 limit of keys per DeleteObjects request.
const maxDeleteBatch = 1000

// Client is the subset of the S3 API the backend uses. *s3.Client
// implements it.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ Client = (*s3.Client)(nil)

// Config holds the options of the S3 backend.
type Config struct {
	Region          string `mapstructure:"region" json:"region,omitempty"`
	Bucket          string `mapstructure:"bucket" json:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix" json:"key_prefix,omitempty"`
	Endpoint        string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key,omitempty"`

	// MaxRetries bounds the attempts of every request. Default: 10
	MaxRetries int `mapstructure:"max_retries" json:"max_retries,omitempty"`

	// Metrics receives every request when set.
	Metrics Metrics `mapstructure:"-" json:"-"`
}

// NewClient builds an S3 client from cfg. Without explicit credentials the
// default AWS credential chain is used. A custom endpoint (MinIO,
// Localstack) switches to path-style addressing.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required: %w", vfs.ErrInvalidArgument)
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Backend is the S3 backend.
type Backend struct {
	client Client
	bucket string
	prefix string
	parser vfs.SlashPathParser
}

var _ vfs.Backend = (*Backend)(nil)

// New creates a backend over bucket and verifies that it is reachable. The
// bucket must already exist.
func New(ctx context.Context, client Client, bucket, keyPrefix string) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("s3 client is required: %w", vfs.ErrInvalidArgument)
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required: %w", vfs.ErrInvalidArgument)
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", bucket, err)
	}

	prefix := strings.TrimPrefix(keyPrefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewFileSystem builds a client from cfg and wraps the bucket into a
// FileSystem.
func NewFileSystem(ctx context.Context, cfg Config, opts vfs.Options) (*vfs.FileSystem, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b, err := New(ctx, WithMetrics(client, cfg.Metrics), cfg.Bucket, cfg.KeyPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("S3 filesystem initialized: bucket=%s, region=%s, prefix=%s", cfg.Bucket, cfg.Region, b.prefix)
	if opts.Name == "" {
		opts.Name = "s3"
	}
	return vfs.New(b, opts), nil
}

// ============================================================================
// Keys and Errors
// ============================================================================

// objectKey returns the key of the file at p.
func (b *Backend) objectKey(p string) string {
	return b.prefix + strings.TrimPrefix(vfs.CleanSlashPath(p), "/")
}

// dirKey returns the key prefix shared by everything below the directory p,
// which is also the key of its marker object.
func (b *Backend) dirKey(p string) string {
	if b.parser.IsRoot(p) {
		return b.prefix
	}
	return b.objectKey(p) + "/"
}

// copySource builds the URL-encoded CopySource of key.
func (b *Backend) copySource(key string) string {
	parts := strings.Split(b.bucket+"/"+key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

func mapError(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", vfs.ErrNotFound, err)
	}
	return err
}

// ============================================================================
// Object Helpers
// ============================================================================

func (b *Backend) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (b *Backend) put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (b *Backend) deleteKey(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// deleteKeys removes keys in batches of up to 1000.
func (b *Backend) deleteKeys(ctx context.Context, keys []string) error {
	for i := 0; i < len(keys); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := keys[i:min(len(keys), i+maxDeleteBatch)]
		objects := make([]types.ObjectIdentifier, len(chunk))
		for j, key := range chunk {
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete %d objects: %w", len(chunk), err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (b *Backend) copyKey(ctx context.Context, src, dst string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.copySource(src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, mapError(err))
	}
	return nil
}

// listAll returns every key starting with prefix.
func (b *Backend) listAll(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// hasAny reports whether at least one key other than except starts with
// prefix.
func (b *Backend) hasAny(ctx context.Context, prefix, except string) (bool, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list objects: %w", err)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != except {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) isFile(ctx context.Context, p string) (bool, error) {
	if b.parser.IsRoot(p) {
		return false, nil
	}
	_, err := b.head(ctx, b.objectKey(p))
	if vfs.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// isDir reports whether p has a marker object or any object below it.
func (b *Backend) isDir(ctx context.Context, p string) (bool, error) {
	if b.parser.IsRoot(p) {
		return true, nil
	}
	return b.hasAny(ctx, b.dirKey(p), "")
}

// requireParent fails with ErrNotFound unless the parent of p is a directory.
func (b *Backend) requireParent(ctx context.Context, p string) error {
	parent := b.parser.Dir(p)
	ok, err := b.isDir(ctx, parent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("parent %s: %w", parent, vfs.ErrNotFound)
	}
	return nil
}

// keepParent materializes the marker of the parent of p. Removing the last
// object of an implicit directory would otherwise remove the directory too.
func (b *Backend) keepParent(ctx context.Context, p string) error {
	parent := b.parser.Dir(p)
	if b.parser.IsRoot(parent) {
		return nil
	}
	marker := b.dirKey(parent)
	_, err := b.head(ctx, marker)
	if !vfs.IsNotFound(err) {
		return err
	}
	return b.put(ctx, marker, nil)
}

// writeTime returns the explicit write time of an object, falling back to
// its last modification.
func writeTime(out *s3.HeadObjectOutput) time.Time {
	if v, ok := out.Metadata[mtimeKey]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return aws.ToTime(out.LastModified)
}

// ============================================================================
// Files
// ============================================================================

func (b *Backend) PathParser() vfs.PathParser { return b.parser }

func (b *Backend) NormalizePathImpl(_ context.Context, p string) (string, error) {
	return vfs.CleanSlashPath(p), nil
}

func (b *Backend) CreateFileImpl(ctx context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	p := params.Path
	if b.parser.IsRoot(p) {
		return nil, vfs.ErrIsDirectory
	}

	exists, err := b.isFile(ctx, p)
	if err != nil {
		return nil, err
	}
	if exists {
		if params.Mode == vfs.ModeCreateNew {
			return nil, vfs.ErrAlreadyExists
		}
		return newFileImpl(b, p), nil
	}

	dir, err := b.isDir(ctx, p)
	if err != nil {
		return nil, err
	}
	if dir {
		return nil, vfs.ErrIsDirectory
	}
	if !params.Mode.CreatesFile() {
		return nil, vfs.ErrNotFound
	}
	if err := b.requireParent(ctx, p); err != nil {
		return nil, err
	}

	// The empty object makes the file visible right away.
	if err := b.put(ctx, b.objectKey(p), nil); err != nil {
		return nil, err
	}
	f := newFileImpl(b, p)
	f.loadEmpty()
	return f, nil
}

func (b *Backend) DeleteFileImpl(ctx context.Context, p string) error {
	if _, err := b.head(ctx, b.objectKey(p)); err != nil {
		return err
	}
	if err := b.deleteKey(ctx, b.objectKey(p)); err != nil {
		return err
	}
	return b.keepParent(ctx, p)
}

// ============================================================================
// Directories
// ============================================================================

func (b *Backend) CreateDirectoryImpl(ctx context.Context, p string) error {
	if b.parser.IsRoot(p) {
		return nil
	}
	file, err := b.isFile(ctx, p)
	if err != nil {
		return err
	}
	if file {
		return vfs.ErrAlreadyExists
	}
	dir, err := b.isDir(ctx, p)
	if err != nil || dir {
		return err
	}
	if err := b.requireParent(ctx, p); err != nil {
		return err
	}
	return b.put(ctx, b.dirKey(p), nil)
}

func (b *Backend) DeleteDirectoryImpl(ctx context.Context, p string) error {
	if b.parser.IsRoot(p) {
		return fmt.Errorf("cannot delete the bucket root: %w", vfs.ErrInvalidArgument)
	}
	marker := b.dirKey(p)
	if _, err := b.head(ctx, marker); err != nil {
		if !vfs.IsNotFound(err) {
			return err
		}
		// Without a marker the directory exists only through its children.
		dir, err := b.isDir(ctx, p)
		if err != nil {
			return err
		}
		if dir {
			return vfs.ErrNotEmpty
		}
		if file, _ := b.isFile(ctx, p); file {
			return vfs.ErrNotDirectory
		}
		return vfs.ErrNotFound
	}
	busy, err := b.hasAny(ctx, marker, marker)
	if err != nil {
		return err
	}
	if busy {
		return vfs.ErrNotEmpty
	}
	if err := b.deleteKey(ctx, marker); err != nil {
		return err
	}
	return b.keepParent(ctx, p)
}

func (b *Backend) EnumDirectoryImpl(ctx context.Context, p string) ([]vfs.FileSystemEntity, error) {
	dir, err := b.isDir(ctx, p)
	if err != nil {
		return nil, err
	}
	if !dir {
		if file, _ := b.isFile(ctx, p); file {
			return nil, vfs.ErrNotDirectory
		}
		return nil, vfs.ErrNotFound
	}

	prefix := b.dirKey(p)
	entries := []vfs.FileSystemEntity{{
		Name:       vfs.CurrentDirectoryName,
		FullPath:   p,
		Attributes: vfs.AttrDirectory,
	}}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, vfs.FileSystemEntity{
				Name:       name,
				FullPath:   b.parser.Join(p, name),
				Attributes: vfs.AttrDirectory,
			})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				if p != "/" {
					entries[0].LastWriteTime = aws.ToTime(obj.LastModified)
				}
				continue
			}
			size := aws.ToInt64(obj.Size)
			modified := aws.ToTime(obj.LastModified)
			entries = append(entries, vfs.FileSystemEntity{
				Name:           name,
				FullPath:       b.parser.Join(p, name),
				Size:           size,
				PhysicalSize:   size,
				Attributes:     vfs.AttrNormal,
				CreationTime:   modified,
				LastWriteTime:  modified,
				LastAccessTime: modified,
			})
		}
	}
	return entries, nil
}

// ============================================================================
// Metadata
// ============================================================================

func (b *Backend) GetFileMetadataImpl(ctx context.Context, p string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	if b.parser.IsRoot(p) {
		return nil, vfs.ErrIsDirectory
	}
	out, err := b.head(ctx, b.objectKey(p))
	if err != nil {
		if dir, derr := b.isDir(ctx, p); vfs.IsNotFound(err) && derr == nil && dir {
			return nil, vfs.ErrIsDirectory
		}
		return nil, err
	}

	size := aws.ToInt64(out.ContentLength)
	md := &vfs.FileMetadata{Size: size, PhysicalSize: size}
	if flags.Has(vfs.GetAttributes) {
		md.Attributes = vfs.AttrPtr(vfs.AttrNormal)
	}
	if flags.Has(vfs.GetTimes) {
		t := writeTime(out)
		md.CreationTime = vfs.TimePtr(t)
		md.LastWriteTime = vfs.TimePtr(t)
		md.LastAccessTime = vfs.TimePtr(t)
	}
	return md, nil
}

func unsupportedFacets(md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	if (mode&vfs.CopySecurityAll != 0 && !md.Security.IsEmpty()) ||
		(mode.Has(vfs.CopyAlternateStream) && md.AlternateStream != nil && len(md.AlternateStream.Items) > 0) ||
		(mode.Has(vfs.CopyAuthor) && md.Author != nil) {
		return fmt.Errorf("s3 stores no security, stream or author metadata: %w", vfs.ErrNotSupported)
	}
	return nil
}

// SetFileMetadataImpl stores an explicit write time by copying the object
// onto itself with replaced user metadata.
func (b *Backend) SetFileMetadataImpl(ctx context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	if err := unsupportedFacets(md, mode); err != nil {
		return err
	}
	key := b.objectKey(p)
	if _, err := b.head(ctx, key); err != nil {
		return err
	}
	if !mode.Has(vfs.CopyLastWriteTime) || md.LastWriteTime == nil {
		return nil
	}

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		CopySource:        aws.String(b.copySource(key)),
		Key:               aws.String(key),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          map[string]string{mtimeKey: md.LastWriteTime.UTC().Format(time.RFC3339Nano)},
	})
	if err != nil {
		return fmt.Errorf("failed to set write time of %s: %w", key, mapError(err))
	}
	return nil
}

func (b *Backend) GetDirectoryMetadataImpl(ctx context.Context, p string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	dir, err := b.isDir(ctx, p)
	if err != nil {
		return nil, err
	}
	if !dir {
		if file, _ := b.isFile(ctx, p); file {
			return nil, vfs.ErrNotDirectory
		}
		return nil, vfs.ErrNotFound
	}
	md := &vfs.FileMetadata{IsDirectory: true}
	if flags.Has(vfs.GetAttributes) {
		md.Attributes = vfs.AttrPtr(vfs.AttrDirectory)
	}
	if flags.Has(vfs.GetTimes) && !b.parser.IsRoot(p) {
		if out, err := b.head(ctx, b.dirKey(p)); err == nil {
			t := aws.ToTime(out.LastModified)
			md.CreationTime = vfs.TimePtr(t)
			md.LastWriteTime = vfs.TimePtr(t)
			md.LastAccessTime = vfs.TimePtr(t)
		}
	}
	return md, nil
}

// SetDirectoryMetadataImpl accepts attributes and times without storing them.
func (b *Backend) SetDirectoryMetadataImpl(ctx context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	if err := unsupportedFacets(md, mode); err != nil {
		return err
	}
	dir, err := b.isDir(ctx, p)
	if err != nil {
		return err
	}
	if !dir {
		return vfs.ErrNotFound
	}
	return nil
}

// ============================================================================
// Namespace
// ============================================================================

func (b *Backend) MoveFileImpl(ctx context.Context, src, dst string, overwrite bool) error {
	srcKey, dstKey := b.objectKey(src), b.objectKey(dst)
	if _, err := b.head(ctx, srcKey); err != nil {
		return err
	}
	if srcKey == dstKey {
		return nil
	}

	exists, err := b.isFile(ctx, dst)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return vfs.ErrAlreadyExists
	}
	if dir, err := b.isDir(ctx, dst); err != nil || dir {
		if err != nil {
			return err
		}
		return vfs.ErrIsDirectory
	}
	if err := b.requireParent(ctx, dst); err != nil {
		return err
	}

	if err := b.copyKey(ctx, srcKey, dstKey); err != nil {
		return err
	}
	if err := b.deleteKey(ctx, srcKey); err != nil {
		return err
	}
	return b.keepParent(ctx, src)
}

// MoveDirectoryImpl copies every object below src, marker included, then
// deletes the originals.
func (b *Backend) MoveDirectoryImpl(ctx context.Context, src, dst string) error {
	if b.parser.IsRoot(src) {
		return fmt.Errorf("cannot move the bucket root: %w", vfs.ErrInvalidArgument)
	}
	dir, err := b.isDir(ctx, src)
	if err != nil {
		return err
	}
	if !dir {
		return vfs.ErrNotFound
	}
	if file, err := b.isFile(ctx, dst); err != nil || file {
		if err != nil {
			return err
		}
		return vfs.ErrAlreadyExists
	}
	if taken, err := b.isDir(ctx, dst); err != nil || taken {
		if err != nil {
			return err
		}
		return vfs.ErrAlreadyExists
	}
	if err := b.requireParent(ctx, dst); err != nil {
		return err
	}

	from, to := b.dirKey(src), b.dirKey(dst)
	keys, err := b.listAll(ctx, from)
	if err != nil {
		return err
	}
	logger.Debug("Moving %d objects from %s to %s", len(keys), from, to)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.copyKey(ctx, key, to+strings.TrimPrefix(key, from)); err != nil {
			return err
		}
	}
	if err := b.deleteKeys(ctx, keys); err != nil {
		return err
	}
	return b.keepParent(ctx, src)
}

func (b *Backend) IsFileExistsImpl(ctx context.Context, p string) (bool, error) {
	return b.isFile(ctx, p)
}

func (b *Backend) IsDirectoryExistsImpl(ctx context.Context, p string) (bool, error) {
	return b.isDir(ctx, p)
}

func (b *Backend) CloseImpl(context.Context) error {
	return nil
}
