package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"loft-go/internal/loft"
)

// S3Options configures an S3-compatible vault.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// Static credentials; empty means the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Vault stores snapshots as objects under <prefix>/<workspaceID>/<name>.age.
type S3Vault struct {
	name     string
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Vault creates an S3-backed vault.
func NewS3Vault(ctx context.Context, name string, opts S3Options) (*S3Vault, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Vault{
		name:     name,
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (v *S3Vault) workspacePrefix(workspaceID string) string {
	if v.prefix == "" {
		return workspaceID + "/"
	}
	return path.Join(v.prefix, workspaceID) + "/"
}

func (v *S3Vault) objectKey(workspaceID, name string) string {
	return v.workspacePrefix(workspaceID) + name + snapshotExt
}

// PutSnapshot uploads a snapshot. Storing a name that already exists is a no-op.
func (v *S3Vault) PutSnapshot(ctx context.Context, workspaceID, name string, r io.Reader, size int64) error {
	if err := validateKey(workspaceID, name); err != nil {
		return err
	}
	key := v.objectKey(workspaceID, name)

	exists, err := v.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		return nil
	}

	if _, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        &v.bucket,
		Key:           &key,
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	}); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}

func (v *S3Vault) GetSnapshot(ctx context.Context, workspaceID, name string, w io.Writer) error {
	if err := validateKey(workspaceID, name); err != nil {
		return err
	}
	key := v.objectKey(workspaceID, name)
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &v.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, workspaceID, name)
		}
		return fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("s3 read object: %w", err)
	}
	return nil
}

func (v *S3Vault) ListSnapshots(ctx context.Context, workspaceID string) ([]string, error) {
	prefix := v.workspacePrefix(workspaceID)
	p := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: &v.bucket,
		Prefix: &prefix,
	})

	var names []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if name, ok := snapshotName(prefix, aws.ToString(obj.Key)); ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// snapshotName extracts the backup name from an object key directly under prefix.
func snapshotName(prefix, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || strings.Contains(rest, "/") || !strings.HasSuffix(rest, snapshotExt) {
		return "", false
	}
	name := strings.TrimSuffix(rest, snapshotExt)
	return name, name != ""
}

// ValidateSetup verifies that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &v.bucket}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) exists(ctx context.Context, key string) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &v.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head object: %w", err)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound")
}

var _ loft.Vault = (*S3Vault)(nil)
