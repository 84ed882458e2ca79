package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"eventchain/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// 环境变量
const (
	EnvPrefix = "EVENTCHAIN"
	EnvDBDSN  = "EVENTCHAIN_DB_DSN"
)

// DefaultCreateGasLimit 创建活动的gas上限
const DefaultCreateGasLimit uint64 = 3000000

// Config 主配置
type Config struct {
	Blockchain *BlockchainConfig  `mapstructure:"blockchain"`
	Contract   *ContractConfig    `mapstructure:"contract"`
	Workflow   *WorkflowConfig    `mapstructure:"workflow"`
	Output     *OutputConfig      `mapstructure:"output"`
	Journal    *JournalConfig     `mapstructure:"journal"`
	API        *APIConfig         `mapstructure:"api"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	Nodes []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name     string `mapstructure:"name" json:"name"`
	URL      string `mapstructure:"url" json:"url"`
	Type     string `mapstructure:"type" json:"type"`
	Priority int    `mapstructure:"priority" json:"priority"`
}

// ContractConfig 合约部署来源
type ContractConfig struct {
	ArtifactPath string              `mapstructure:"artifact_path"`
	Deployments  []*DeploymentConfig `mapstructure:"deployments"`
}

// DeploymentConfig 单个网络的部署，覆盖产物文件中的同名网络
type DeploymentConfig struct {
	NetworkID string `mapstructure:"network_id"`
	Address   string `mapstructure:"address"`
	ABIPath   string `mapstructure:"abi_path"`
	ABI       string `mapstructure:"abi"`
}

// WorkflowConfig 工作流配置
type WorkflowConfig struct {
	Account             string `mapstructure:"account"`               // 为空时使用第一个账户
	CreateGasLimit      uint64 `mapstructure:"create_gas_limit"`      // 创建活动的gas上限
	PurchaseGasLimit    uint64 `mapstructure:"purchase_gas_limit"`    // 0表示由节点估算
	ListWorkers         int    `mapstructure:"list_workers"`          // 并发读取活动的协程数
	ReceiptPollInterval string `mapstructure:"receipt_poll_interval"` // 轮询交易回执的间隔
	WatchPollInterval   string `mapstructure:"watch_poll_interval"`   // 订阅不可用时的轮询间隔
	ReadRetries         int    `mapstructure:"read_retries"`          // 只读调用的最大尝试次数
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, json, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// JournalConfig 操作日志存储
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// ReceiptPoll 回执轮询间隔
func (w *WorkflowConfig) ReceiptPoll() time.Duration {
	return parseDurationOr(w.ReceiptPollInterval, time.Second)
}

// WatchPoll 监听轮询间隔
func (w *WorkflowConfig) WatchPoll() time.Duration {
	return parseDurationOr(w.WatchPollInterval, 15*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	// 首先尝试从数据库加载
	if dsn := os.Getenv(EnvDBDSN); dsn != "" {
		dbConfig, err := NewDatabaseConfig(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		cfg, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		logger.Info("已从数据库加载配置")
		return cfg, nil
	}

	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从YAML文件加载配置，环境变量 EVENTCHAIN_* 可覆盖文件中的值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 将默认配置注册到viper
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	nodes := make([]map[string]interface{}, 0, len(d.Blockchain.Nodes))
	for _, n := range d.Blockchain.Nodes {
		nodes = append(nodes, map[string]interface{}{
			"name":     n.Name,
			"url":      n.URL,
			"type":     n.Type,
			"priority": n.Priority,
		})
	}
	v.SetDefault("blockchain.nodes", nodes)

	v.SetDefault("contract.artifact_path", d.Contract.ArtifactPath)

	v.SetDefault("workflow.account", d.Workflow.Account)
	v.SetDefault("workflow.create_gas_limit", d.Workflow.CreateGasLimit)
	v.SetDefault("workflow.purchase_gas_limit", d.Workflow.PurchaseGasLimit)
	v.SetDefault("workflow.list_workers", d.Workflow.ListWorkers)
	v.SetDefault("workflow.receipt_poll_interval", d.Workflow.ReceiptPollInterval)
	v.SetDefault("workflow.watch_poll_interval", d.Workflow.WatchPollInterval)
	v.SetDefault("workflow.read_retries", d.Workflow.ReadRetries)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topics", d.Output.Kafka.Topics)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)

	v.SetDefault("api.port", d.API.Port)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Blockchain == nil || len(c.Blockchain.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个区块链节点")
	}
	for i, node := range c.Blockchain.Nodes {
		if err := node.Validate(); err != nil {
			return fmt.Errorf("节点 %d 配置无效: %w", i, err)
		}
	}

	if c.Contract == nil || (c.Contract.ArtifactPath == "" && len(c.Contract.Deployments) == 0) {
		return fmt.Errorf("需要配置合约产物路径或部署列表")
	}
	for i, dep := range c.Contract.Deployments {
		if dep.NetworkID == "" || dep.Address == "" {
			return fmt.Errorf("部署 %d 缺少 network_id 或 address", i)
		}
	}

	if c.Workflow == nil {
		return fmt.Errorf("缺少工作流配置")
	}
	if c.Workflow.CreateGasLimit == 0 {
		return fmt.Errorf("create_gas_limit 必须大于0")
	}
	if c.Workflow.ListWorkers < 1 || c.Workflow.ListWorkers > 64 {
		return fmt.Errorf("list_workers 必须在1-64之间，当前值: %d", c.Workflow.ListWorkers)
	}

	if c.Output != nil {
		switch c.Output.Format {
		case "", "none", "json":
		case "kafka":
			if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
				return fmt.Errorf("kafka输出需要配置brokers")
			}
		default:
			return fmt.Errorf("不支持的输出格式: %s", c.Output.Format)
		}
	}

	if c.API != nil && (c.API.Port < 0 || c.API.Port > 65535) {
		return fmt.Errorf("无效的API端口: %d", c.API.Port)
	}
	return nil
}

// Validate 校验节点配置
func (n *NodeConfig) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("节点名称不能为空")
	}
	if n.URL == "" {
		return fmt.Errorf("节点 %s 的URL不能为空", n.Name)
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Blockchain: &BlockchainConfig{
			Nodes: []*NodeConfig{
				{
					Name:     "ganache",
					URL:      "http://127.0.0.1:7545",
					Type:     "local",
					Priority: 1,
				},
			},
		},
		Contract: &ContractConfig{
			ArtifactPath: "build/contracts/EventContract.json",
		},
		Workflow: &WorkflowConfig{
			CreateGasLimit:      DefaultCreateGasLimit,
			PurchaseGasLimit:    0,
			ListWorkers:         4,
			ReceiptPollInterval: "1s",
			WatchPollInterval:   "15s",
			ReadRetries:         3,
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"activity":  "eventchain_activity",
					"snapshots": "eventchain_snapshots",
				},
			},
		},
		Journal: &JournalConfig{
			Enabled: true,
			Path:    "./data/journal.db",
		},
		API: &APIConfig{
			Port: 8080,
		},
		Logging: logging.DefaultLogConfig(),
	}
}
