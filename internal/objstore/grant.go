package objstore

import (
	"fmt"
	"net/http"
	"time"

	"github.com/FairForge/achievements/internal/achievement"
)

// Method is the HTTP method a grant authorises.
type Method string

const (
	MethodGet Method = http.MethodGet
	MethodPut Method = http.MethodPut
)

// MaxGrantTTL is the longest expiry SigV4 presigning accepts.
const MaxGrantTTL = 7 * 24 * time.Hour

// AccessGrant is a presigned URL plus what the caller must send with it. It
// holds no server-side state and cannot be revoked before it expires.
type AccessGrant struct {
	URL             string            `json:"url"`
	Method          Method            `json:"method"`
	ExpiresIn       int64             `json:"expires_in"`
	ExpiresAt       time.Time         `json:"expires_at"`
	RequiredHeaders map[string]string `json:"required_headers"`
}

// GrantOption configures GeneratePresignedURL.
type GrantOption func(*grantOptions)

type grantOptions struct {
	contentType string
}

// WithContentType sets the Content-Type a PUT grant asks the uploader to send.
// It is not part of the signature.
func WithContentType(contentType string) GrantOption {
	return func(o *grantOptions) {
		o.contentType = contentType
	}
}

func validateGrant(method Method, ttl time.Duration) error {
	if method != MethodGet && method != MethodPut {
		return &achievement.ValidationError{Field: "method", Reason: fmt.Sprintf("unsupported method %q", method)}
	}
	if ttl < time.Second || ttl > MaxGrantTTL {
		return &achievement.ValidationError{Field: "ttl", Reason: fmt.Sprintf("%s outside 1s..%s", ttl, MaxGrantTTL)}
	}
	return nil
}
