package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"portab/internal/config"
	"portab/internal/portab"
)

// versionMetaKey is the user metadata entry carrying a metadata item's
// version. S3 lowercases user metadata keys.
const versionMetaKey = "portab-version"

// S3Vault stores blobs in a bucket under an optional prefix:
//
//	<prefix>/content/<checksum>
//	<prefix>/metadata/<hostID>/<name>
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

var _ portab.Vault = (*S3Vault)(nil)

// NewS3Vault builds a client from the default AWS credential chain, or from
// the static keys in cfg when both are set.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3Vault(name, bucket, prefix string, client *s3.Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) contentKey(checksum string) string {
	return path.Join(v.prefix, "content", checksum)
}

func (v *S3Vault) metadataObjectKey(key string) string {
	return path.Join(v.prefix, "metadata", key)
}

func (v *S3Vault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	data, err := readSized(r, size)
	if err != nil {
		return err
	}
	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.contentKey(checksum)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("uploading content %s: %w", checksum, err)
	}
	return nil
}

func (v *S3Vault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	return v.getObject(ctx, v.contentKey(checksum), w)
}

func (v *S3Vault) PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return err
	}
	data, err := readSized(r, size)
	if err != nil {
		return err
	}
	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.metadataObjectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{versionMetaKey: strconv.FormatInt(version, 10)},
	})
	if err != nil {
		return fmt.Errorf("uploading metadata %s: %w", key, err)
	}
	return nil
}

func (v *S3Vault) GetMetadata(ctx context.Context, hostID, name string, w io.Writer) error {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return err
	}
	return v.getObject(ctx, v.metadataObjectKey(key), w)
}

// GetMetadataVersion reads the version from the object's user metadata.
// A missing object is version 0.
func (v *S3Vault) GetMetadataVersion(ctx context.Context, hostID, name string) (int64, error) {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return 0, err
	}
	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.metadataObjectKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("checking metadata %s: %w", key, err)
	}
	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version of %s: %w", key, err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and the credentials reach it.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("vault %q: bucket %s not accessible: %w", v.name, v.bucket, err)
	}
	return nil
}

func (v *S3Vault) getObject(ctx context.Context, key string, w io.Writer) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("fetching %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}
