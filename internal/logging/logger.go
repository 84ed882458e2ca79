package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `json:"format" mapstructure:"format"` // 日志格式 (json, text)
	Output string `json:"output" mapstructure:"output"` // 输出路径 (stdout, stderr, 文件路径)
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}
}

// NewLogger 按配置创建logrus日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	logger := logrus.New()

	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	writer, err := getLogWriter(config.Output)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}
	logger.SetOutput(writer)

	return logger, nil
}

// parseLogLevel 解析日志级别
func parseLogLevel(levelStr string) (logrus.Level, error) {
	switch levelStr {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("未知的日志级别: %s", levelStr)
	}
}

// getLogWriter 获取日志输出
func getLogWriter(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	default:
		dir := filepath.Dir(output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return file, nil
	}
}

// EventFields 活动相关的日志字段
func EventFields(eventID uint64) logrus.Fields {
	return logrus.Fields{
		"component": "workflow",
		"event_id":  eventID,
	}
}

// TxFields 交易相关的日志字段
func TxFields(method, from, txHash string) logrus.Fields {
	return logrus.Fields{
		"component": "chain",
		"method":    method,
		"from":      from,
		"tx_hash":   txHash,
	}
}

// RPCFields RPC调用相关的日志字段
func RPCFields(method, nodeURL string) logrus.Fields {
	return logrus.Fields{
		"component": "rpc_client",
		"method":    method,
		"node_url":  nodeURL,
	}
}
