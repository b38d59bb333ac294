// Package objstoretest provides an in-memory S3 fake for tests. It satisfies
// objstore.API and objstore.Presigner, and serves the presigned URLs it issues
// from an httptest.Server so direct client transfers can be exercised.
package objstoretest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Operation names accepted by FailWith and Calls.
const (
	OpPutObject     = "PutObject"
	OpGetObject     = "GetObject"
	OpDeleteObject  = "DeleteObject"
	OpHeadObject    = "HeadObject"
	OpListObjectsV2 = "ListObjectsV2"
	OpHeadBucket    = "HeadBucket"
	OpCreateBucket  = "CreateBucket"
	OpPresign       = "Presign"
)

const defaultPresignExpiry = 15 * time.Minute

type object struct {
	data        []byte
	contentType string
}

type grant struct {
	method  string
	bucket  string
	key     string
	expires time.Time
}

// Fake is a thread-safe in-memory object store.
type Fake struct {
	mu       sync.Mutex
	buckets  map[string]map[string]object
	grants   map[string]grant
	errs     map[string]error
	calls    map[string]int
	now      func() time.Time
	pageSize int

	srv *httptest.Server
}

// New starts a fake with the given buckets already created. The grant server
// is closed when the test ends.
func New(tb testing.TB, buckets ...string) *Fake {
	tb.Helper()

	f := &Fake{
		buckets:  make(map[string]map[string]object),
		grants:   make(map[string]grant),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		now:      time.Now,
		pageSize: 1000,
	}
	for _, b := range buckets {
		f.buckets[b] = make(map[string]object)
	}

	f.srv = httptest.NewServer(http.HandlerFunc(f.serveGrant))
	tb.Cleanup(f.srv.Close)
	return f
}

// URL returns the base URL of the grant server.
func (f *Fake) URL() string {
	return f.srv.URL
}

// SetNow replaces the clock used for grant expiry.
func (f *Fake) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// SetPageSize limits ListObjectsV2 pages.
func (f *Fake) SetPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

// FailWith makes every call of op return err until cleared with a nil err.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Object returns a copy of the stored bytes.
func (f *Fake) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// ContentType returns the Content-Type the object was stored with.
func (f *Fake) ContentType(bucket, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	return obj.contentType, ok
}

// Put stores an object directly, bypassing call counting and error injection.
func (f *Fake) Put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = make(map[string]object)
	}
	f.buckets[bucket][key] = object{data: bytes.Clone(data)}
}

// HasBucket reports whether bucket exists.
func (f *Fake) HasBucket(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok
}

// begin records a call and returns the injected error for op. Callers hold mu.
func (f *Fake) begin(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *Fake) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if params.Body != nil {
		var err error
		if data, err = io.ReadAll(params.Body); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpPutObject); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, ok := f.buckets[aws.ToString(params.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}
	bucket[aws.ToString(params.Key)] = object{data: data, contentType: aws.ToString(params.ContentType)}
	return &s3.PutObjectOutput{}, nil
}

func (f *Fake) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpGetObject); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, ok := f.buckets[aws.ToString(params.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}
	obj, ok := bucket[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	data := bytes.Clone(obj.data)
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(obj.contentType),
	}, nil
}

func (f *Fake) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeleteObject); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, ok := f.buckets[aws.ToString(params.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}
	delete(bucket, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *Fake) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpHeadObject); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, ok := f.buckets[aws.ToString(params.Bucket)][aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
	}, nil
}

func (f *Fake) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpListObjectsV2); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, ok := f.buckets[aws.ToString(params.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}

	prefix := aws.ToString(params.Prefix)
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(keys) {
			return nil, fmt.Errorf("invalid continuation token %q", token)
		}
		start = n
	}
	size := f.pageSize
	if params.MaxKeys != nil && int(*params.MaxKeys) > 0 && int(*params.MaxKeys) < size {
		size = int(*params.MaxKeys)
	}
	end := start + size
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{
		Name:        params.Bucket,
		Prefix:      params.Prefix,
		KeyCount:    aws.Int32(int32(end - start)),
		IsTruncated: aws.Bool(end < len(keys)),
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(bucket[k].data))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *Fake) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpHeadBucket); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *Fake) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateBucket); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := aws.ToString(params.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{Message: aws.String("bucket already exists")}
	}
	f.buckets[name] = make(map[string]object)
	return &s3.CreateBucketOutput{}, nil
}

func (f *Fake) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return f.presign(ctx, http.MethodGet, aws.ToString(params.Bucket), aws.ToString(params.Key), optFns)
}

func (f *Fake) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return f.presign(ctx, http.MethodPut, aws.ToString(params.Bucket), aws.ToString(params.Key), optFns)
}

func (f *Fake) presign(ctx context.Context, method, bucket, key string, optFns []func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	expiry := opts.Expires
	if expiry == 0 {
		expiry = defaultPresignExpiry
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpPresign); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := newToken()
	f.grants[token] = grant{
		method:  method,
		bucket:  bucket,
		key:     key,
		expires: f.now().Add(expiry),
	}

	host := f.srv.Listener.Addr().String()
	u := url.URL{
		Scheme: "http",
		Host:   host,
		Path:   "/" + bucket + "/" + key,
		RawQuery: url.Values{
			"X-Amz-Expires": {strconv.Itoa(int(expiry / time.Second))},
			"X-Fake-Token":  {token},
		}.Encode(),
	}

	// The SDK signs only host for presigned requests.
	signed := http.Header{"Host": {host}}
	return &v4.PresignedHTTPRequest{URL: u.String(), Method: method, SignedHeader: signed}, nil
}

// serveGrant enforces what a real SigV4 check would: the grant's method,
// expiry and object path. Like S3, it stores whatever Content-Type the
// upload carries.
func (f *Fake) serveGrant(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("X-Fake-Token")

	f.mu.Lock()
	g, ok := f.grants[token]
	now := f.now()
	f.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusForbidden, "AccessDenied", "unknown grant")
		return
	case r.URL.Path != "/"+g.bucket+"/"+g.key:
		writeError(w, http.StatusForbidden, "SignatureDoesNotMatch", "path does not match grant")
		return
	case r.Method != g.method:
		writeError(w, http.StatusForbidden, "SignatureDoesNotMatch", "method does not match grant")
		return
	case now.After(g.expires):
		writeError(w, http.StatusForbidden, "AccessDenied", "Request has expired")
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error())
			return
		}
		f.mu.Lock()
		bucket, exists := f.buckets[g.bucket]
		if exists {
			bucket[g.key] = object{data: data, contentType: r.Header.Get("Content-Type")}
		}
		f.mu.Unlock()
		if !exists {
			writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		f.mu.Lock()
		obj, exists := f.buckets[g.bucket][g.key]
		f.mu.Unlock()
		if !exists {
			writeError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
			return
		}
		if obj.contentType != "" {
			w.Header().Set("Content-Type", obj.contentType)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		_, _ = w.Write(obj.data)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<Error><Code>%s</Code><Message>%s</Message></Error>", code, message)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
