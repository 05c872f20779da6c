package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultArchivePrefix = "exports/orders"
	defaultURLExpiry     = 15 * time.Minute
	maxURLExpiry         = time.Hour
)

var (
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errNoSigner       = errors.New("storage: signer is required")
	errNoWriter       = errors.New("storage: object writer is required")
	errExpiryTooLong  = errors.New("storage: url expiry exceeds permitted maximum")
	errEmptyArchive   = errors.New("storage: archive payload is empty")
	errInvalidSegment = errors.New("storage: invalid path segment")

	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ObjectWriter stores one object in a bucket.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, body io.Reader) (int64, error)
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject uploads body. The object is only visible once Close succeeds.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, body io.Reader) (int64, error) {
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "private, no-store"
	n, err := io.Copy(writer, body)
	if err != nil {
		_ = writer.Close()
		return n, fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("storage: finalise %s: %w", object, err)
	}
	return n, nil
}

// ArchivedObject describes a stored export and the link handed back to the caller.
type ArchivedObject struct {
	Bucket    string
	Object    string
	Size      int64
	URL       string
	ExpiresAt time.Time
}

// Archive uploads generated exports and signs a short-lived download URL for each.
type Archive struct {
	writer ObjectWriter
	signer URLSigner
	bucket string
	prefix string
	expiry time.Duration
	now    func() time.Time
}

// ArchiveOption customises an Archive.
type ArchiveOption func(*Archive)

// WithArchivePrefix overrides the object prefix.
func WithArchivePrefix(prefix string) ArchiveOption {
	return func(a *Archive) {
		if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
			a.prefix = p
		}
	}
}

// WithURLExpiry sets how long download links stay valid.
func WithURLExpiry(expiry time.Duration) ArchiveOption {
	return func(a *Archive) {
		if expiry > 0 {
			a.expiry = expiry
		}
	}
}

// WithArchiveClock injects a clock, mainly for tests.
func WithArchiveClock(clock func() time.Time) ArchiveOption {
	return func(a *Archive) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewArchive constructs an Archive writing to bucket.
func NewArchive(writer ObjectWriter, signer URLSigner, bucket string, opts ...ArchiveOption) (*Archive, error) {
	if writer == nil {
		return nil, errNoWriter
	}
	if signer == nil {
		return nil, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	a := &Archive{
		writer: writer,
		signer: signer,
		bucket: bucket,
		prefix: defaultArchivePrefix,
		expiry: defaultURLExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.expiry > maxURLExpiry {
		return nil, errExpiryTooLong
	}
	return a, nil
}

// Store uploads data under prefix/YYYY/MM/fileName and returns a signed GET URL that downloads
// it as an attachment.
func (a *Archive) Store(ctx context.Context, fileName, contentType string, data []byte) (ArchivedObject, error) {
	if len(data) == 0 {
		return ArchivedObject{}, errEmptyArchive
	}
	now := a.now().UTC()
	object, err := a.objectPath(now, fileName)
	if err != nil {
		return ArchivedObject{}, err
	}
	size, err := a.writer.WriteObject(ctx, a.bucket, object, contentType, bytes.NewReader(data))
	if err != nil {
		return ArchivedObject{}, err
	}
	expiresAt := now.Add(a.expiry)
	signed, err := a.signedURL(ctx, object, fileName, contentType, expiresAt)
	if err != nil {
		return ArchivedObject{}, err
	}
	return ArchivedObject{
		Bucket:    a.bucket,
		Object:    object,
		Size:      size,
		URL:       signed,
		ExpiresAt: expiresAt,
	}, nil
}

func (a *Archive) objectPath(now time.Time, fileName string) (string, error) {
	name := strings.TrimSpace(fileName)
	if name == "" {
		return "", errInvalidObject
	}
	if !segmentPattern.MatchString(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", errInvalidSegment, fileName)
	}
	return path.Join(a.prefix, now.Format("2006"), now.Format("01"), name), nil
}

func (a *Archive) signedURL(ctx context.Context, object, fileName, contentType string, expiresAt time.Time) (string, error) {
	query := url.Values{}
	query.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	if contentType != "" {
		query.Set("response-content-type", contentType)
	}
	signed, err := a.signer.SignURL(ctx, a.bucket, object, &gcs.SignedURLOptions{
		Method:          "GET",
		Expires:         expiresAt,
		Scheme:          gcs.SigningSchemeV4,
		QueryParameters: query,
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}
