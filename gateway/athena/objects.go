package athena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quarrydb/quarry/gateway"
)

// minioObjectClient reads materialized result objects over the S3 protocol.
// A custom endpoint supports S3-compatible deployments; the default is the
// regional endpoint of the service's own storage.
type minioObjectClient struct {
	client *minio.Client
}

func newObjectClient(cfg Config) (*minioObjectClient, error) {
	endpoint, secure, err := resolveEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	var creds *miniocreds.Credentials
	if cfg.AccessKeyID != "" {
		creds = miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		creds = miniocreds.NewChainCredentials([]miniocreds.Provider{
			&miniocreds.EnvAWS{},
			&miniocreds.FileAWSCredentials{},
			&miniocreds.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &minioObjectClient{client: client}, nil
}

func (m *minioObjectClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapObjectErr(err)
	}
	// GetObject is lazy; surface missing objects now instead of on the
	// first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapObjectErr(err)
	}
	return obj, nil
}

func resolveEndpoint(cfg Config) (string, bool, error) {
	raw := strings.TrimSpace(cfg.StorageEndpoint)
	if raw == "" {
		return fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region), true, nil
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse storage endpoint: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("storage endpoint host is required")
		}
		return parsed.Host, parsed.Scheme == "https", nil
	}
	return raw, true, nil
}

func mapObjectErr(err error) error {
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return gateway.NewError("get object", gateway.KindNotFound, err)
		case "AccessDenied":
			return gateway.NewError("get object", gateway.KindPermissionDenied, err)
		case "SlowDown":
			return gateway.NewError("get object", gateway.KindThrottled, err)
		}
	}
	return err
}
