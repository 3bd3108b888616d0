package s3

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

/*
Conn wraps a MinIO client bound to one bucket. It works against any
S3-compatible endpoint.
*/
type Conn struct {
	client *minio.Client
	bucket string
}

type ConnOption func(*connConfig)

type connConfig struct {
	secure bool
}

// NewConn dials the endpoint and ensures the bucket exists.
func NewConn(ctx context.Context, endpoint, accessKey, secretKey, bucket string, options ...ConnOption) (*Conn, error) {
	config := &connConfig{}
	for _, option := range options {
		option(config)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: config.secure,
	})

	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)

	if err != nil {
		return nil, err
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &Conn{client: client, bucket: bucket}, nil
}

// WithTLS enables HTTPS transport to the endpoint.
func WithTLS() ConnOption {
	return func(config *connConfig) {
		config.secure = true
	}
}

// Put writes an object under key.
func (conn *Conn) Put(ctx context.Context, key string, body []byte) error {
	_, err := conn.client.PutObject(
		ctx, conn.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	return err
}

// Get reads an object by key.
func (conn *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := conn.client.GetObject(ctx, conn.bucket, key, minio.GetObjectOptions{})

	if err != nil {
		return nil, err
	}

	defer obj.Close()

	return io.ReadAll(obj)
}

// List streams the object keys under prefix.
func (conn *Conn) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	for info := range conn.client.ListObjects(ctx, conn.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}

	return keys, nil
}
