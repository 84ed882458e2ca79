package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"eventchain/internal/config"
	"eventchain/pkg/models"

	"github.com/sirupsen/logrus"
)

// Output 输出接口，接收写操作记录和活动快照
type Output interface {
	RecordActivity(ctx context.Context, activity *models.Activity) error
	RecordSnapshot(ctx context.Context, snapshot *models.Snapshot) error
	Close() error
}

// NewOutputWithConfig 按配置创建输出器。format为none或空时返回nil
func NewOutputWithConfig(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Format {
	case "", "none":
		return nil, nil
	case "json":
		out, err := NewFileOutput(cfg.Directory)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "kafka":
		if cfg.Kafka == nil || len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka输出需要配置brokers")
		}
		out, err := NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// FileOutput 文件输出，每行一条JSON
type FileOutput struct {
	outputDir    string
	mu           sync.Mutex
	activityFile *os.File
	snapshotFile *os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputPath string) (*FileOutput, error) {
	// 确保输出目录存在
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")

	activityFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("activity_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建操作记录文件失败: %w", err)
	}

	snapshotFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("snapshots_%s.json", timestamp)))
	if err != nil {
		activityFile.Close()
		return nil, fmt.Errorf("创建快照文件失败: %w", err)
	}

	return &FileOutput{
		outputDir:    outputPath,
		activityFile: activityFile,
		snapshotFile: snapshotFile,
	}, nil
}

// RecordActivity 写入一条操作记录
func (o *FileOutput) RecordActivity(_ context.Context, activity *models.Activity) error {
	if activity == nil {
		return nil
	}
	return o.writeLine(o.activityFile, activity, "操作记录")
}

// RecordSnapshot 写入一次活动快照
func (o *FileOutput) RecordSnapshot(_ context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	return o.writeLine(o.snapshotFile, snapshot, "快照")
}

func (o *FileOutput) writeLine(f *os.File, v interface{}, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化%s失败: %w", what, err)
	}

	// 添加换行符
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("写入%s文件失败: %w", what, err)
	}

	// 强制刷新到磁盘
	if err := f.Sync(); err != nil {
		return fmt.Errorf("刷新%s文件失败: %w", what, err)
	}
	return nil
}

// Dir 输出目录
func (o *FileOutput) Dir() string {
	return o.outputDir
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errors []error
	if o.activityFile != nil {
		if err := o.activityFile.Close(); err != nil {
			errors = append(errors, fmt.Errorf("关闭操作记录文件失败: %w", err))
		}
	}
	if o.snapshotFile != nil {
		if err := o.snapshotFile.Close(); err != nil {
			errors = append(errors, fmt.Errorf("关闭快照文件失败: %w", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errors)
	}
	return nil
}
