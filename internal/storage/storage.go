// Package storage archives incoming media to MinIO so the message cache
// can reference stable URLs instead of carrying payloads inline.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Archive struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

func New(cfg Config) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}

	a := &Archive{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
	if err := a.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		policy := fmt.Sprintf(`{
			"Version": "2012-10-17",
			"Statement": [
				{
					"Effect": "Allow",
					"Principal": {"AWS": ["*"]},
					"Action": ["s3:GetObject"],
					"Resource": ["arn:aws:s3:::%s/*"]
				}
			]
		}`, a.bucket)

		if err := a.client.SetBucketPolicy(ctx, a.bucket, policy); err != nil {
			return fmt.Errorf("failed to set bucket policy: %w", err)
		}
	}
	return nil
}

// StoreMedia uploads one media payload and returns its public URL.
func (a *Archive) StoreMedia(ctx context.Context, instanceID, chatID, messageID, mimetype string, data []byte) (string, error) {
	objectKey := MediaObjectKey(instanceID, chatID, messageID, mimetype)
	_, err := a.client.PutObject(ctx, a.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimetype,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", a.publicURL, a.bucket, objectKey), nil
}

// Fetch reads an archived object back, for the media download endpoint.
func (a *Archive) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	object, err := a.client.GetObject(ctx, a.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// DropInstance removes every archived object belonging to an instance.
func (a *Archive) DropInstance(ctx context.Context, instanceID string) error {
	objects := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    instanceID + "/",
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return object.Err
		}
		if err := a.client.RemoveObject(ctx, a.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// MediaObjectKey builds the archive path for one message's media.
func MediaObjectKey(instanceID, chatID, messageID, mimetype string) string {
	ext := extensionFor(mimetype)
	return path.Join(instanceID, sanitizeChatID(chatID), messageID+ext)
}

func extensionFor(mimetype string) string {
	// mime.ExtensionsByType is alphabetical; prefer the common ones.
	switch {
	case strings.HasPrefix(mimetype, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mimetype, "image/png"):
		return ".png"
	case strings.HasPrefix(mimetype, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(mimetype, "audio/ogg"):
		return ".ogg"
	}
	if exts, err := mime.ExtensionsByType(mimetype); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func sanitizeChatID(chatID string) string {
	return strings.NewReplacer("@", "_", ":", "_").Replace(chatID)
}
