package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eventchain/internal/config"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Connection 到单个节点的连接
type Connection struct {
	Node *config.NodeConfig
	RPC  *rpc.Client
	Eth  *ethclient.Client
}

// Close 关闭连接
func (c *Connection) Close() {
	if c.Eth != nil {
		c.Eth.Close()
	}
}

// NodeHealth 节点健康状态
type NodeHealth struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Priority  int       `json:"priority"`
	IsHealthy bool      `json:"is_healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// ConnectionPool 按优先级选择节点
type ConnectionPool struct {
	nodes       []*config.NodeConfig
	health      map[string]*NodeHealth
	current     *Connection
	logger      *logrus.Logger
	mu          sync.RWMutex
	dialTimeout time.Duration
}

// NewConnectionPool 创建连接池，节点按priority升序尝试
func NewConnectionPool(nodes []*config.NodeConfig, logger *logrus.Logger) *ConnectionPool {
	sorted := make([]*config.NodeConfig, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	health := make(map[string]*NodeHealth, len(sorted))
	for _, n := range sorted {
		health[n.Name] = &NodeHealth{Name: n.Name, URL: n.URL, Priority: n.Priority}
	}

	return &ConnectionPool{
		nodes:       sorted,
		health:      health,
		logger:      logger,
		dialTimeout: 10 * time.Second,
	}
}

// SetDialTimeout 设置单个节点的拨号和探活超时
func (cp *ConnectionPool) SetDialTimeout(d time.Duration) {
	if d > 0 {
		cp.dialTimeout = d
	}
}

// Connect 依次尝试节点，返回第一个通过健康检查的连接。
// 已有连接会被保留，直到调用Reconnect。
func (cp *ConnectionPool) Connect(ctx context.Context) (*Connection, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.current != nil {
		return cp.current, nil
	}
	return cp.connectLocked(ctx)
}

// Reconnect 关闭当前连接并重新选择节点
func (cp *ConnectionPool) Reconnect(ctx context.Context) (*Connection, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.current != nil {
		cp.current.Close()
		cp.current = nil
	}
	return cp.connectLocked(ctx)
}

func (cp *ConnectionPool) connectLocked(ctx context.Context) (*Connection, error) {
	if len(cp.nodes) == 0 {
		return nil, fmt.Errorf("没有配置区块链节点")
	}

	var lastErr error
	for _, node := range cp.nodes {
		conn, err := cp.dial(ctx, node)
		cp.recordHealth(node, err)
		if err != nil {
			cp.logger.Warnf("节点 %s 不可用: %v", node.Name, err)
			lastErr = err
			continue
		}

		cp.logger.Infof("已连接节点 %s (%s)", node.Name, node.URL)
		cp.current = conn
		return conn, nil
	}

	return nil, fmt.Errorf("所有节点都无法连接: %w", lastErr)
}

// dial 连接节点并用ChainID探活
func (cp *ConnectionPool) dial(ctx context.Context, node *config.NodeConfig) (*Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cp.dialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, node.URL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	client := ethclient.NewClient(rpcClient)
	if _, err := client.ChainID(dialCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("测试连接失败: %w", err)
	}

	return &Connection{Node: node, RPC: rpcClient, Eth: client}, nil
}

func (cp *ConnectionPool) recordHealth(node *config.NodeConfig, err error) {
	h := cp.health[node.Name]
	if h == nil {
		return
	}
	h.IsHealthy = err == nil
	h.LastCheck = time.Now()
	h.LastError = ""
	if err != nil {
		h.LastError = err.Error()
	}
}

// CheckHealth 探活当前连接
func (cp *ConnectionPool) CheckHealth(ctx context.Context) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.current == nil {
		return fmt.Errorf("尚未连接节点")
	}

	checkCtx, cancel := context.WithTimeout(ctx, cp.dialTimeout)
	defer cancel()

	_, err := cp.current.Eth.ChainID(checkCtx)
	cp.recordHealth(cp.current.Node, err)
	return err
}

// Current 当前连接，未连接时为nil
func (cp *ConnectionPool) Current() *Connection {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.current
}

// GetStats 获取节点健康信息
func (cp *ConnectionPool) GetStats() []NodeHealth {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	stats := make([]NodeHealth, 0, len(cp.nodes))
	for _, n := range cp.nodes {
		stats = append(stats, *cp.health[n.Name])
	}
	return stats
}

// Close 关闭连接池
func (cp *ConnectionPool) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.current != nil {
		cp.current.Close()
		cp.current = nil
	}
	cp.logger.Info("连接池已关闭")
	return nil
}
