package archive

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid archive URI")

	// ErrUnsupportedScheme indicates the URI scheme is not supported.
	ErrUnsupportedScheme = errors.New("unsupported archive scheme")

	// ErrMissingBucket indicates an s3 URI without a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// Supported URI schemes.
const (
	SchemeS3   = "s3"
	SchemeFile = "file"
)

// Destination is a parsed archive URI.
//
// Example URIs:
//   - s3://bucket
//   - s3://bucket/runwatch/reports/
//   - file:///var/lib/runwatch/reports
type Destination struct {
	// Scheme is SchemeS3 or SchemeFile.
	Scheme string

	// Bucket is the S3 bucket. Empty for file destinations.
	Bucket string

	// Prefix is the S3 key prefix, or the directory for file destinations.
	Prefix string
}

// String returns the URI in canonical form.
func (d Destination) String() string {
	if d.Scheme == SchemeFile {
		return "file://" + filepath.ToSlash(d.Prefix)
	}
	if d.Prefix != "" {
		return fmt.Sprintf("s3://%s/%s", d.Bucket, d.Prefix)
	}
	return fmt.Sprintf("s3://%s/", d.Bucket)
}

// ParseURI parses an archive destination.
//
// Parsing is manual because url.Parse treats characters valid in S3 keys
// (such as ?) as delimiters.
func ParseURI(uri string) (Destination, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Destination{}, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return Destination{}, fmt.Errorf("%w: missing scheme (expected s3:// or file://)", ErrInvalidURI)
	}
	scheme := strings.ToLower(uri[:schemeEnd])
	remainder := uri[schemeEnd+3:]

	switch scheme {
	case SchemeFile:
		if remainder == "" {
			return Destination{}, fmt.Errorf("%w: missing directory in %s", ErrInvalidURI, uri)
		}
		return Destination{Scheme: SchemeFile, Prefix: filepath.Clean(filepath.FromSlash(remainder))}, nil
	case SchemeS3:
	default:
		return Destination{}, fmt.Errorf("%w: %s (supported: s3, file)", ErrUnsupportedScheme, scheme)
	}

	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return Destination{}, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	// Basic validation; S3 bucket names can't contain most special chars.
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil || strings.ContainsAny(bucket, " \\") {
		return Destination{}, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}
	return Destination{Scheme: SchemeS3, Bucket: bucket, Prefix: key}, nil
}
