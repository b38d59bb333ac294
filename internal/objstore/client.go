// Package objstore talks to the S3-compatible bucket that holds achievement
// files: direct blob operations plus presigned access grants.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// API is the subset of *s3.Client the gateway uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Presigner is the subset of *s3.PresignClient the gateway uses.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client performs blob and URL operations against a single bucket. It keeps
// no mutable state; concurrent calls are independent.
type Client struct {
	api       API
	presigner Presigner
	bucket    string
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Client over an already configured S3 API and presigner.
func New(api API, presigner Presigner, bucket string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:       api,
		presigner: presigner,
		bucket:    bucket,
		logger:    logger,
		now:       time.Now,
	}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Upload writes data to key.
func (c *Client) Upload(ctx context.Context, key string, data []byte) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return wrapError("upload", key, err)
	}

	c.logger.Debug("uploaded object",
		zap.String("bucket", c.bucket),
		zap.String("key", key),
		zap.Int("size", len(data)))
	return nil
}

// Download reads the whole object into memory.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError("download", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, &StorageError{Kind: KindIOFailure, Op: "download", Key: key, Err: err}
	}
	return data, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		serr := wrapError("delete", key, err)
		if IsNotFound(serr) {
			return nil
		}
		return serr
	}

	c.logger.Debug("deleted object", zap.String("bucket", c.bucket), zap.String("key", key))
	return nil
}

// Exists reports whether key is present. Only a confirmed "not found" yields
// false; transport and auth failures are returned as IOFailure errors.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	serr := wrapError("exists", key, err)
	if IsNotFound(serr) {
		return false, nil
	}
	return false, serr
}

// List returns every key under prefix, following continuation tokens. An
// empty result is not an error.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	keys := []string{}
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &StorageError{Kind: KindIOFailure, Op: "list", Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// GeneratePresignedURL issues a grant for method on key that expires ttl
// after issuance. For PUT, WithContentType is returned in RequiredHeaders as
// an advisory header: SigV4 presigning signs only host, so the store accepts
// and records whatever Content-Type the upload actually sends.
func (c *Client) GeneratePresignedURL(ctx context.Context, key string, method Method, ttl time.Duration, opts ...GrantOption) (AccessGrant, error) {
	if err := validateGrant(method, ttl); err != nil {
		return AccessGrant{}, err
	}

	var o grantOptions
	for _, opt := range opts {
		opt(&o)
	}

	issued := c.now()
	expires := s3.WithPresignExpires(ttl)

	var (
		req *v4.PresignedHTTPRequest
		err error
	)
	switch method {
	case MethodGet:
		req, err = c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}, expires)
	case MethodPut:
		input := &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}
		if o.contentType != "" {
			input.ContentType = aws.String(o.contentType)
		}
		req, err = c.presigner.PresignPutObject(ctx, input, expires)
	}
	if err != nil {
		return AccessGrant{}, &StorageError{Kind: KindIOFailure, Op: "presign", Key: key, Err: err}
	}

	grant := AccessGrant{
		URL:             req.URL,
		Method:          method,
		ExpiresIn:       int64(ttl / time.Second),
		ExpiresAt:       issued.Add(ttl).UTC(),
		RequiredHeaders: requiredHeaders(req.SignedHeader),
	}
	if method == MethodPut && o.contentType != "" {
		grant.RequiredHeaders["Content-Type"] = o.contentType
	}

	c.logger.Debug("issued access grant",
		zap.String("bucket", c.bucket),
		zap.String("key", key),
		zap.String("method", string(method)),
		zap.Duration("ttl", ttl))
	return grant, nil
}

// requiredHeaders flattens the signed headers a caller has to replay. Host is
// set by every HTTP client from the URL.
func requiredHeaders(signed http.Header) map[string]string {
	out := make(map[string]string, len(signed))
	for name, values := range signed {
		canonical := http.CanonicalHeaderKey(name)
		if canonical == "Host" || len(values) == 0 {
			continue
		}
		out[canonical] = values[0]
	}
	return out
}

// EnsureBucket creates the bucket when the store reports it missing.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	if !isMissingObject(err) {
		return &StorageError{Kind: KindIOFailure, Op: "head bucket", Key: c.bucket, Err: err}
	}

	if _, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return &StorageError{Kind: KindIOFailure, Op: "create bucket", Key: c.bucket, Err: err}
	}
	c.logger.Info("created bucket", zap.String("bucket", c.bucket))
	return nil
}

// HealthCheck verifies the bucket is reachable with the configured credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", c.bucket, err)
	}
	return nil
}
