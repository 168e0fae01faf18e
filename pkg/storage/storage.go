package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/slideguard/slidereview/pkg/logger"
	"github.com/slideguard/slidereview/pkg/storage/minio"
	"github.com/slideguard/slidereview/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage 对象存储接口。存放原始上传、转换出的幻灯片图片、模型原始
// 响应以及最终审核结果，键由调用方指定。
type Storage interface {
	// Put 按键写入对象
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get 按键读取对象
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete 删除对象
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期对象
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
