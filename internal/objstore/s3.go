package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type S3Config struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string // optional, S3-compatible stores
	BaseURL  string // optional public URL prefix for references
}

type S3Store struct {
	cfg        S3Config
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objstore: s3 bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("objstore: aws session: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &S3Store{
		cfg:        cfg,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return s.cfg.Prefix + "/" + key
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	in := &s3manager.UploadInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(k)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := s.uploader.UploadWithContext(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL + "/" + s.objectKey(k), nil
	}
	return out.Location, nil
}

func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	key, ok := s.keyFromRef(ref)
	if !ok {
		return nil, ErrForeignRef
	}
	buf := aws.NewWriteAtBuffer(nil)
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) Owns(ref string) bool {
	_, ok := s.keyFromRef(ref)
	return ok
}

// keyFromRef accepts s3://bucket/key, BaseURL/key and the virtual-hosted or
// path-style URLs returned by the uploader.
func (s *S3Store) keyFromRef(ref string) (string, bool) {
	if s.cfg.BaseURL != "" && strings.HasPrefix(ref, s.cfg.BaseURL+"/") {
		return strings.TrimPrefix(ref, s.cfg.BaseURL+"/"), true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	p := strings.TrimPrefix(u.Path, "/")
	switch {
	case u.Scheme == "s3" && u.Host == s.cfg.Bucket:
		return p, p != ""
	case u.Scheme == "https" && strings.HasPrefix(u.Host, s.cfg.Bucket+".s3"):
		return p, p != ""
	case u.Scheme == "https" && strings.HasPrefix(p, s.cfg.Bucket+"/"):
		k := strings.TrimPrefix(p, s.cfg.Bucket+"/")
		return k, k != ""
	}
	return "", false
}
