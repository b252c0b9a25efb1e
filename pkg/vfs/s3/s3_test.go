package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testBucket = "test-bucket"

func newTestFS(t *testing.T, prefix string, opts vfs.Options) (*vfs.FileSystem, *fakeClient) {
	t.Helper()
	client := newFakeClient(testBucket)
	b, err := New(context.Background(), client, testBucket, prefix)
	require.NoError(t, err)
	return vfs.New(b, opts), client
}

func TestS3FileSystem(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			fs, _ := newTestFS(t, "vfs", opts)
			return fs, "/"
		},
	}
	suite.Run(t)
}

func TestS3FileSystem_NoPrefix(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			fs, _ := newTestFS(t, "", opts)
			return fs, "/"
		},
	}
	suite.Run(t)
}

func TestS3_KeysAndMarkers(t *testing.T) {
	ctx := context.Background()
	fs, client := newTestFS(t, "/data", vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.CreateDirectory(ctx, "/a/b", true))
	require.NoError(t, fs.WriteDataToFile(ctx, "/a/b/f.txt", []byte("hello"), vfs.FlagNone))

	assert.Equal(t, []string{"data/a/", "data/a/b/", "data/a/b/f.txt"}, client.keys())
}

func TestS3_ImplicitDirectories(t *testing.T) {
	ctx := context.Background()
	fs, client := newTestFS(t, "", vfs.Options{})
	defer fs.Close(ctx)

	_, err := client.PutObject(ctx, &s3.PutObjectInput{Bucket: ptr(testBucket), Key: ptr("x/y/z.txt")})
	require.NoError(t, err)

	assert.True(t, fs.IsDirectoryExists(ctx, "/x"))
	assert.True(t, fs.IsDirectoryExists(ctx, "/x/y"))
	assert.True(t, fs.IsFileExists(ctx, "/x/y/z.txt"))

	entries, err := fs.EnumDirectory(ctx, "/", false, vfs.EnumDefault)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "x", entries[1].Name)
	assert.True(t, entries[1].IsDirectory())

	assert.ErrorIs(t, fs.DeleteDirectory(ctx, "/x/y", false), vfs.ErrNotEmpty)
	require.NoError(t, fs.DeleteDirectory(ctx, "/x", true))
	assert.Empty(t, client.keys())
}

func TestS3_ReadsUseRanges(t *testing.T) {
	ctx := context.Background()
	fs, client := newTestFS(t, "", vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/r.bin", []byte("0123456789"), vfs.FlagNone))

	f, err := fs.Open(ctx, "/r.bin", vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(ctx)

	buf := make([]byte, 3)
	n, err := f.ReadRandom(ctx, 5, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("567"), buf)

	assert.Contains(t, client.ranges, "bytes=5-7")
	assert.Empty(t, client.full)
}

func TestS3_WritesUploadOnFlush(t *testing.T) {
	ctx := context.Background()
	fs, client := newTestFS(t, "", vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/w.txt", []byte("hello world"), vfs.FlagNone))

	f, err := fs.OpenForWrite(ctx, "/w.txt", vfs.FlagNone)
	require.NoError(t, err)
	require.NoError(t, f.WriteRandom(ctx, 6, []byte("there")))

	// Nothing reaches the bucket before the flush.
	assert.Equal(t, []byte("hello world"), client.objects["w.txt"].data)
	assert.Equal(t, []string{"w.txt"}, client.full)

	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, []byte("hello there"), client.objects["w.txt"].data)
	require.NoError(t, f.Close(ctx))
}

func TestS3_MoveDirectoryEscapesKeys(t *testing.T) {
	ctx := context.Background()
	fs, client := newTestFS(t, "root", vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/my docs/a+b.txt", []byte("1"), vfs.FlagAutoCreateDirectory))
	require.NoError(t, fs.WriteDataToFile(ctx, "/my docs/sub/c%d.txt", []byte("2"), vfs.FlagAutoCreateDirectory))

	require.NoError(t, fs.MoveDirectory(ctx, "/my docs", "/moved"))
	assert.Equal(t, []string{"root/moved/", "root/moved/a+b.txt", "root/moved/sub/", "root/moved/sub/c%d.txt"}, client.keys())

	data, err := fs.ReadDataFromFile(ctx, "/moved/sub/c%d.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), data)
}

func TestS3_WriteTimeMetadata(t *testing.T) {
	ctx := context.Background()
	fs, client := newTestFS(t, "", vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/t.txt", []byte("t"), vfs.FlagNone))
	when := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, fs.SetFileMetadata(ctx, "/t.txt", &vfs.FileMetadata{LastWriteTime: vfs.TimePtr(when)}, vfs.CopyLastWriteTime))
	assert.Equal(t, "2021-03-04T05:06:07Z", client.objects["t.txt"].metadata[mtimeKey])

	md, err := fs.GetFileMetadata(ctx, "/t.txt", vfs.GetTimes)
	require.NoError(t, err)
	assert.True(t, when.Equal(*md.LastWriteTime))

	// A new upload replaces the explicit time.
	require.NoError(t, fs.WriteDataToFile(ctx, "/t.txt", []byte("new"), vfs.FlagNone))
	md, err = fs.GetFileMetadata(ctx, "/t.txt", vfs.GetTimes)
	require.NoError(t, err)
	assert.True(t, md.LastWriteTime.After(when))

	err = fs.SetFileMetadata(ctx, "/t.txt", &vfs.FileMetadata{Security: &vfs.FileSecurityMetadata{Owner: "root"}}, vfs.CopySecurityOwner)
	assert.ErrorIs(t, err, vfs.ErrNotSupported)
}

// mockClient stubs HeadBucket only; any other call panics on the nil
// embedded Client.
type mockClient struct {
	mock.Mock
	Client
}

func (m *mockClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadBucketOutput)
	return out, args.Error(1)
}

func TestNew_BucketUnreachable(t *testing.T) {
	client := new(mockClient)
	denied := errors.New("access denied")
	client.On("HeadBucket", mock.Anything, mock.MatchedBy(func(in *s3.HeadBucketInput) bool {
		return *in.Bucket == "locked"
	})).Return(nil, denied).Once()

	_, err := New(context.Background(), client, "locked", "")
	assert.ErrorIs(t, err, denied)
	client.AssertExpectations(t)

	_, err = New(context.Background(), client, "", "")
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestCopySource(t *testing.T) {
	b := &Backend{bucket: "bkt"}
	assert.Equal(t, "bkt/my%20docs/a+b.txt", b.copySource("my docs/a+b.txt"))
}

func ptr(s string) *string { return &s }

type recordedRequest struct {
	op    string
	bytes int64
	err   error
}

type recordingMetrics struct {
	requests []recordedRequest
}

func (m *recordingMetrics) ObserveRequest(op string, _ time.Duration, bytes int64, err error) {
	m.requests = append(m.requests, recordedRequest{op: op, bytes: bytes, err: err})
}

func TestWithMetrics(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClient(testBucket)
	m := &recordingMetrics{}

	b, err := New(ctx, WithMetrics(fake, m), testBucket, "")
	require.NoError(t, err)
	fs := vfs.New(b, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/m.txt", []byte("metrics"), vfs.FlagNone))
	_, err = fs.ReadDataFromFile(ctx, "/missing.txt")
	require.Error(t, err)

	var puts, failedHeads int
	var uploaded int64
	for _, r := range m.requests {
		switch {
		case r.op == "PutObject":
			puts++
			uploaded += r.bytes
		case r.op == "HeadObject" && r.err != nil:
			failedHeads++
		}
	}
	assert.Equal(t, "HeadBucket", m.requests[0].op)
	assert.GreaterOrEqual(t, puts, 2)
	assert.Equal(t, int64(len("metrics")), uploaded)
	assert.Positive(t, failedHeads)

	assert.Same(t, Client(fake), WithMetrics(fake, nil))
}
