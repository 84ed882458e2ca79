package config

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return NewDatabaseConfigFromDB(db, logger), nil
}

// NewDatabaseConfigFromDB 使用已有连接创建配置管理器
func NewDatabaseConfigFromDB(db *sql.DB, logger *logrus.Logger) *DatabaseConfig {
	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}
}

// LoadConfig 从数据库加载配置，未覆盖的部分使用默认值
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	cfg := GetDefaultConfig()

	nodes, err := dc.loadNodes()
	if err != nil {
		return nil, fmt.Errorf("加载节点配置失败: %w", err)
	}
	if len(nodes) > 0 {
		cfg.Blockchain.Nodes = nodes
	}

	deployments, err := dc.loadDeployments()
	if err != nil {
		return nil, fmt.Errorf("加载合约部署失败: %w", err)
	}
	if len(deployments) > 0 {
		cfg.Contract = &ContractConfig{Deployments: deployments}
	}

	if err := dc.loadWorkflowConfig(cfg.Workflow); err != nil {
		return nil, fmt.Errorf("加载工作流配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadNodes 加载节点配置
func (dc *DatabaseConfig) loadNodes() ([]*NodeConfig, error) {
	query := `SELECT name, url, node_type, priority FROM blockchain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		if err := rows.Scan(&node.Name, &node.URL, &node.Type, &node.Priority); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// loadDeployments 加载合约部署，abi_json为空时使用内置ABI
func (dc *DatabaseConfig) loadDeployments() ([]*DeploymentConfig, error) {
	query := `SELECT network_id, address, COALESCE(abi_json, '') FROM contract_deployments WHERE is_active = true ORDER BY network_id`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []*DeploymentConfig
	for rows.Next() {
		var dep DeploymentConfig
		if err := rows.Scan(&dep.NetworkID, &dep.Address, &dep.ABI); err != nil {
			return nil, err
		}
		deployments = append(deployments, &dep)
	}
	return deployments, rows.Err()
}

// loadWorkflowConfig 加载工作流键值配置
func (dc *DatabaseConfig) loadWorkflowConfig(wf *WorkflowConfig) error {
	query := `SELECT config_key, config_value FROM workflow_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}

		switch key {
		case "account":
			wf.Account = value
		case "create_gas_limit":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				wf.CreateGasLimit = v
			}
		case "purchase_gas_limit":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				wf.PurchaseGasLimit = v
			}
		case "list_workers":
			if v, err := strconv.Atoi(value); err == nil {
				wf.ListWorkers = v
			}
		case "read_retries":
			if v, err := strconv.Atoi(value); err == nil {
				wf.ReadRetries = v
			}
		case "receipt_poll_interval":
			wf.ReceiptPollInterval = value
		case "watch_poll_interval":
			wf.WatchPollInterval = value
		default:
			dc.logger.Warnf("忽略未知的工作流配置项: %s", key)
		}
	}
	return rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
