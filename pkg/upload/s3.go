package upload

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "commitbenchoor"

const (
	defaultRegion = "us-east-1"
	preflightKey  = ".commitbenchoor-write-test"
	runsDir       = "runs"
	octetStream   = "application/octet-stream"
)

// Analyzer logs have no registered MIME type.
var contentTypes = map[string]string{
	".log": "text/plain; charset=utf-8",
	".out": "text/plain; charset=utf-8",
	".md":  "text/markdown; charset=utf-8",
}

// objectAPI is the subset of the S3 client used by the uploader.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client objectAPI
}

var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates an uploader for the bucket in cfg.
func NewS3Uploader(log logrus.FieldLogger, cfg *config.S3UploadConfig) Uploader {
	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, clientOptions(cfg)),
	}
}

// clientOptions applies region, endpoint and static credentials. Without keys
// the SDK's default credential chain is left in place.
func clientOptions(cfg *config.S3UploadConfig) func(*s3.Options) {
	return func(o *s3.Options) {
		o.Region = cfg.Region
		if o.Region == "" {
			o.Region = defaultRegion
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		}
	}
}

func (u *s3Uploader) Preflight(ctx context.Context) error {
	body := "write test " + time.Now().UTC().Format(time.RFC3339)

	if _, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(path.Join(u.rootPrefix(), preflightKey)),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/plain"),
	}); err != nil {
		return fmt.Errorf("preflight write to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

type localFile struct {
	path string
	key  string
	size int64
}

// collectFiles lists the regular files below dir keyed under prefix.
func collectFiles(dir, prefix string) ([]localFile, error) {
	var files []localFile

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		files = append(files, localFile{path: p, key: path.Join(prefix, filepath.ToSlash(rel)), size: info.Size()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	return files, nil
}

// Upload puts every file of localDir under <prefix>/runs/<basename of
// localDir>, cfg.Concurrency files at a time. The first failure cancels the
// remaining puts.
func (u *s3Uploader) Upload(ctx context.Context, localDir string) (*Summary, error) {
	prefix := u.runPrefix(filepath.Base(filepath.Clean(localDir)))

	files, err := collectFiles(localDir, prefix)
	if err != nil {
		return nil, err
	}

	var bytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency())

	for _, f := range files {
		g.Go(func() error {
			if err := u.put(gctx, f); err != nil {
				return fmt.Errorf("uploading %s: %w", f.key, err)
			}

			bytes.Add(f.size)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{Prefix: prefix, Files: len(files), Bytes: bytes.Load()}

	u.log.WithFields(logrus.Fields{
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
		"files":  summary.Files,
		"size":   humanize.Bytes(uint64(summary.Bytes)),
	}).Info("Upload completed")

	return summary, nil
}

func (u *s3Uploader) put(ctx context.Context, f localFile) error {
	body, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(f.key),
		Body:          body,
		ContentLength: aws.Int64(f.size),
		ContentType:   aws.String(contentType(f.path)),
	}

	if u.cfg.StorageClass != "" {
		in.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		in.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithField("key", f.key).Debug("Uploading file")

	_, err = u.client.PutObject(ctx, in)

	return err
}

// ListRuns returns the run directory names under <prefix>/runs/.
func (u *s3Uploader) ListRuns(ctx context.Context) ([]string, error) {
	runs := u.rootPrefix() + "/" + runsDir + "/"

	pages := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(u.cfg.Bucket),
		Prefix:    aws.String(runs),
		Delimiter: aws.String("/"),
	})

	var names []string

	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", u.cfg.Bucket, runs, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), runs), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

func (u *s3Uploader) rootPrefix() string {
	if p := strings.Trim(u.cfg.Prefix, "/"); p != "" {
		return p
	}

	return DefaultPrefix
}

func (u *s3Uploader) runPrefix(name string) string {
	return path.Join(u.rootPrefix(), runsDir, name)
}

func (u *s3Uploader) concurrency() int {
	if u.cfg.Concurrency > 0 {
		return u.cfg.Concurrency
	}

	return config.DefaultUploadConcurrency
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))

	if ct, ok := contentTypes[ext]; ok {
		return ct
	}

	if ct := mime.TypeByExtension(ext); ext != "" && ct != "" {
		return ct
	}

	return octetStream
}
