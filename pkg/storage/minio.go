// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cms-assistant-go/internal/config"
	"cms-assistant-go/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// ErrTooLarge 表示对象超过了调用方允许读取的大小。
var ErrTooLarge = errors.New("storage: object exceeds size limit")

// ObjectInfo 是对象的元信息。
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// FileStore 是上传文件的存储。附件流水线只读，媒体上传接口负责写入。
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	// ReadAll 读取对象的全部字节，超过 limit 时返回 ErrTooLarge。limit <= 0 表示不限制。
	ReadAll(ctx context.Context, key string, limit int64) ([]byte, error)
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 基于 MinIO 客户端创建 FileStore。
func NewMinIOStore(client *minio.Client, bucket string) FileStore {
	return &minioStore{client: client, bucket: bucket}
}

func (s *minioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *minioStore) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	// GetObject 是惰性的，Stat 才会真正发出请求
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return obj, &ObjectInfo{Key: key, Size: stat.Size, ContentType: stat.ContentType}, nil
}

func (s *minioStore) ReadAll(ctx context.Context, key string, limit int64) ([]byte, error) {
	rc, info, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if limit > 0 && info.Size > limit {
		return nil, ErrTooLarge
	}
	return readLimited(rc, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}
