// Package archive uploads check reports to S3 or a local directory and reads
// them back for history.
//
// Reports are keyed by UTC day and check id:
//
//	<prefix>/<yyyy>/<mm>/<dd>/<check_id>.jsonl
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/provider"
	"github.com/3leaps/runwatch/pkg/provider/file"
	"github.com/3leaps/runwatch/pkg/provider/s3"
)

// ReportExt is the extension of archived reports.
const ReportExt = ".jsonl"

// Config describes an archive destination. Only URI is required; the
// remaining fields apply to s3 destinations.
type Config struct {
	URI            string
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool
	IMDSRegion     bool

	// Static credentials; empty uses the AWS default chain.
	AccessKeyID     string
	SecretAccessKey string
}

// Archive stores reports in a provider.Store.
type Archive struct {
	store  provider.Store
	dest   Destination
	logger *zap.Logger
}

// Open parses cfg.URI and connects the matching store.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Archive, error) {
	dest, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}

	var store provider.Store
	switch dest.Scheme {
	case SchemeFile:
		store, err = file.New(file.Config{BaseDir: dest.Prefix})
	case SchemeS3:
		store, err = s3.New(ctx, s3.Config{
			Bucket:          dest.Bucket,
			Prefix:          dest.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Profile:         cfg.Profile,
			ForcePathStyle:  cfg.ForcePathStyle,
			IMDSRegion:      cfg.IMDSRegion,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", dest, err)
	}
	return New(store, dest, logger), nil
}

// New wraps an existing store.
func New(store provider.Store, dest Destination, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{store: store, dest: dest, logger: logger}
}

// Destination returns where reports are written.
func (a *Archive) Destination() Destination {
	return a.dest
}

// Close releases the underlying store.
func (a *Archive) Close() error {
	return a.store.Close()
}

// Key returns the archive key for a check started at ts.
func Key(checkID string, ts time.Time) string {
	return ts.UTC().Format("2006/01/02") + "/" + checkID + ReportExt
}

// Upload stores report under the key for checkID and returns the key.
func (a *Archive) Upload(ctx context.Context, checkID string, ts time.Time, report []byte) (string, error) {
	if strings.TrimSpace(checkID) == "" {
		return "", fmt.Errorf("check id is required")
	}
	key := Key(checkID, ts)
	if err := a.store.PutObject(ctx, key, bytes.NewReader(report), int64(len(report))); err != nil {
		return "", err
	}
	a.logger.Info("Archived check report",
		zap.String("destination", a.dest.String()),
		zap.String("key", key),
		zap.Int("bytes", len(report)),
	)
	return key, nil
}

// Report is an archived report listing entry.
type Report struct {
	Key          string    `json:"key"`
	CheckID      string    `json:"check_id"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns archived reports for the UTC day of `day`, or every report
// when day is zero. Pagination is followed to the end.
func (a *Archive) List(ctx context.Context, day time.Time) ([]Report, error) {
	prefix := ""
	if !day.IsZero() {
		prefix = day.UTC().Format("2006/01/02") + "/"
	}

	var out []Report
	token := ""
	for {
		res, err := a.store.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			if !strings.HasSuffix(obj.Key, ReportExt) {
				continue
			}
			base := obj.Key[strings.LastIndex(obj.Key, "/")+1:]
			out = append(out, Report{
				Key:          obj.Key,
				CheckID:      strings.TrimSuffix(base, ReportExt),
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, nil
		}
		token = res.ContinuationToken
	}
}

// Get downloads the report stored at key.
func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	body, _, err := a.store.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	return io.ReadAll(body)
}
