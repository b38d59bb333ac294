// Package gateway exposes the achievement lifecycle: listing, access grants,
// metadata registration and deletion. It keeps the metadata index in step with
// the object store as far as two independent stores allow.
//
// Known consistency gaps, left to an external reconciliation job:
//   - an upload grant that is never followed by RegisterMeta leaves an object
//     with no metadata (orphan object);
//   - RegisterMeta trusts the caller and does not check the object exists, and
//     a crash between the two steps of DeleteArtifact leaves metadata with no
//     object (orphan metadata). Readers must not treat a record as proof that
//     the object exists.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/achievements/internal/achievement"
	"github.com/FairForge/achievements/internal/metadata"
	"github.com/FairForge/achievements/internal/metrics"
	"github.com/FairForge/achievements/internal/objstore"
)

// Operation names used in metrics.
const (
	OpListArtifacts        = "list_artifacts"
	OpLookupArtifact       = "lookup_artifact"
	OpRequestDownloadGrant = "request_download_grant"
	OpRequestUploadGrant   = "request_upload_grant"
	OpRegisterMeta         = "register_meta"
	OpDeleteArtifact       = "delete_artifact"
)

const (
	DefaultGrantTTL    = time.Hour
	DefaultContentType = "application/octet-stream"
)

// ErrArtifactNotFound is returned when the index has no record for a key.
var ErrArtifactNotFound = errors.New("artifact not found")

// ObjectStore is what the gateway needs from the object store client.
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
	GeneratePresignedURL(ctx context.Context, key string, method objstore.Method, ttl time.Duration, opts ...objstore.GrantOption) (objstore.AccessGrant, error)
}

// Gateway is safe for concurrent use.
type Gateway struct {
	store              ObjectStore
	index              *metadata.Index
	uploadTTL          time.Duration
	downloadTTL        time.Duration
	defaultContentType string
	logger             *zap.Logger
	metrics            *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithUploadTTL sets the lifetime of upload grants.
func WithUploadTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.uploadTTL = ttl
	}
}

// WithDownloadTTL sets the lifetime of download grants.
func WithDownloadTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.downloadTTL = ttl
	}
}

// WithDefaultContentType sets the Content-Type advertised by upload grants
// that do not name one.
func WithDefaultContentType(contentType string) Option {
	return func(g *Gateway) {
		g.defaultContentType = contentType
	}
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a Gateway that owns store and index for its lifetime.
func New(store ObjectStore, index *metadata.Index, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if store == nil || index == nil {
		return nil, errors.New("gateway: object store and index are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{
		store:              store,
		index:              index,
		uploadTTL:          DefaultGrantTTL,
		downloadTTL:        DefaultGrantTTL,
		defaultContentType: DefaultContentType,
		logger:             logger,
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, ttl := range []time.Duration{g.uploadTTL, g.downloadTTL} {
		if ttl < time.Second || ttl > objstore.MaxGrantTTL {
			return nil, &achievement.ValidationError{Field: "ttl", Reason: ttl.String() + " outside 1s.." + objstore.MaxGrantTTL.String()}
		}
	}
	return g, nil
}

// ListArtifacts returns the owner's metadata records. Object existence is not
// re-checked, so a record whose object was removed out of band still appears.
func (g *Gateway) ListArtifacts(ctx context.Context, ownerID string) (list []achievement.Meta, err error) {
	defer g.observe(OpListArtifacts, time.Now(), &err)

	if err := achievement.ValidateOwner(ownerID); err != nil {
		return nil, err
	}
	return g.index.GetAll(ownerID), nil
}

// LookupArtifact returns a single metadata record.
func (g *Gateway) LookupArtifact(ctx context.Context, ownerID, name string) (meta achievement.Meta, err error) {
	defer g.observe(OpLookupArtifact, time.Now(), &err)

	if err := achievement.ValidateIdentity(ownerID, name); err != nil {
		return achievement.Meta{}, err
	}
	meta, ok := g.index.Get(ownerID, name)
	if !ok {
		return achievement.Meta{}, ErrArtifactNotFound
	}
	return meta, nil
}

// RequestDownloadGrant issues a GET grant for the artifact. The index is not
// consulted: a grant for a missing object fails when it is used.
func (g *Gateway) RequestDownloadGrant(ctx context.Context, ownerID, name string) (grant objstore.AccessGrant, err error) {
	defer g.observe(OpRequestDownloadGrant, time.Now(), &err)

	if err := achievement.ValidateIdentity(ownerID, name); err != nil {
		return objstore.AccessGrant{}, err
	}

	key := objstore.ArtifactKey(ownerID, name)
	grant, err = g.store.GeneratePresignedURL(ctx, key, objstore.MethodGet, g.downloadTTL)
	if err != nil {
		g.logger.Error("failed to issue download grant",
			zap.String("owner_id", ownerID),
			zap.String("artifact", name),
			zap.Error(err))
		return objstore.AccessGrant{}, err
	}

	g.logger.Debug("issued download grant",
		zap.String("owner_id", ownerID),
		zap.String("artifact", name),
		zap.Int64("expires_in", grant.ExpiresIn))
	return grant, nil
}

// RequestUploadGrant issues a PUT grant asking for Content-Type fileType. The
// header is advisory; the store keeps whatever type the upload sends. The
// index is not touched; the caller registers metadata after the upload.
func (g *Gateway) RequestUploadGrant(ctx context.Context, ownerID, name, fileName, fileType string) (grant objstore.AccessGrant, err error) {
	defer g.observe(OpRequestUploadGrant, time.Now(), &err)

	if err := achievement.ValidateIdentity(ownerID, name); err != nil {
		return objstore.AccessGrant{}, err
	}
	if fileType == "" {
		fileType = g.defaultContentType
	}

	key := objstore.ArtifactKey(ownerID, name)
	grant, err = g.store.GeneratePresignedURL(ctx, key, objstore.MethodPut, g.uploadTTL, objstore.WithContentType(fileType))
	if err != nil {
		g.logger.Error("failed to issue upload grant",
			zap.String("owner_id", ownerID),
			zap.String("artifact", name),
			zap.Error(err))
		return objstore.AccessGrant{}, err
	}

	g.logger.Debug("issued upload grant",
		zap.String("owner_id", ownerID),
		zap.String("artifact", name),
		zap.String("file_name", fileName),
		zap.String("file_type", fileType),
		zap.Int64("expires_in", grant.ExpiresIn))
	return grant, nil
}

// RegisterMeta stores caller-supplied metadata, replacing any earlier record
// for the same key. The object is not checked; see the package comment.
func (g *Gateway) RegisterMeta(ctx context.Context, meta achievement.Meta) (stored achievement.Meta, err error) {
	defer g.observe(OpRegisterMeta, time.Now(), &err)

	if err := meta.Validate(); err != nil {
		return achievement.Meta{}, err
	}

	stored, err = g.index.Put(meta)
	if err != nil {
		return achievement.Meta{}, err
	}
	g.metrics.SetIndexRecords(g.index.Len())

	g.logger.Info("registered achievement metadata",
		zap.String("owner_id", stored.OwnerID),
		zap.String("artifact", stored.Name),
		zap.String("file_type", stored.FileType),
		zap.Int64("file_size", stored.FileSize))
	return stored, nil
}

// DeleteArtifact removes the object and then its metadata. If the object
// delete fails the record is left in place and the error is returned.
// Deleting an artifact that never existed succeeds.
func (g *Gateway) DeleteArtifact(ctx context.Context, ownerID, name string) (err error) {
	defer g.observe(OpDeleteArtifact, time.Now(), &err)

	if err := achievement.ValidateIdentity(ownerID, name); err != nil {
		return err
	}

	key := objstore.ArtifactKey(ownerID, name)
	if err := g.store.Delete(ctx, key); err != nil {
		g.logger.Error("failed to delete object, keeping metadata",
			zap.String("owner_id", ownerID),
			zap.String("artifact", name),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	g.index.Delete(ownerID, name)
	g.metrics.SetIndexRecords(g.index.Len())

	g.logger.Info("deleted achievement",
		zap.String("owner_id", ownerID),
		zap.String("artifact", name))
	return nil
}

func (g *Gateway) observe(op string, start time.Time, errp *error) {
	g.metrics.ObserveOperation(op, resultOf(*errp), time.Since(start))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case achievement.IsValidation(err):
		return metrics.ResultInvalid
	case errors.Is(err, ErrArtifactNotFound), objstore.IsNotFound(err):
		return metrics.ResultNotFound
	default:
		return metrics.ResultError
	}
}
