package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventchain/internal/connection"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/internal/logging"
	"eventchain/internal/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// RPCCapability 基于JSON-RPC节点的Capability实现。
// 交易通过eth_sendTransaction由节点管理的账户签名（Ganache等开发节点）。
type RPCCapability struct {
	rpc         *rpc.Client
	eth         *ethclient.Client
	nodeURL     string
	retrier     *retry.Retrier
	receiptPoll time.Duration
	logger      *logrus.Logger
}

// RPCOptions RPCCapability配置
type RPCOptions struct {
	ReceiptPoll time.Duration
	ReadRetry   *retry.RetryConfig
}

// NewRPCCapability 基于已建立的节点连接创建
func NewRPCCapability(conn *connection.Connection, opts RPCOptions, logger *logrus.Logger) *RPCCapability {
	if opts.ReceiptPoll <= 0 {
		opts.ReceiptPoll = time.Second
	}
	nodeURL := ""
	if conn.Node != nil {
		nodeURL = conn.Node.URL
	}
	return &RPCCapability{
		rpc:         conn.RPC,
		eth:         conn.Eth,
		nodeURL:     nodeURL,
		retrier:     retry.NewRetrier(opts.ReadRetry, logger),
		receiptPoll: opts.ReceiptPoll,
		logger:      logger,
	}
}

// sendTxArgs eth_sendTransaction参数
type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

// NetworkID 读取net_version
func (r *RPCCapability) NetworkID(ctx context.Context) (string, error) {
	id, err := retry.Do(ctx, r.retrier, "net_version", func() (string, error) {
		n, err := r.eth.NetworkID(ctx)
		if err != nil {
			return "", err
		}
		return n.String(), nil
	})
	if err != nil {
		return "", fmt.Errorf("读取网络ID失败: %w", err)
	}
	return id, nil
}

// Accounts 读取eth_accounts
func (r *RPCCapability) Accounts(ctx context.Context) ([]common.Address, error) {
	accounts, err := retry.Do(ctx, r.retrier, "eth_accounts", func() ([]common.Address, error) {
		var accs []common.Address
		err := r.rpc.CallContext(ctx, &accs, "eth_accounts")
		return accs, err
	})
	if err != nil {
		return nil, fmt.Errorf("读取账户列表失败: %w", err)
	}
	return accounts, nil
}

// BindContract 确认部署地址上存在合约代码
func (r *RPCCapability) BindContract(ctx context.Context, dep *contract.Deployment) (*Contract, error) {
	code, err := retry.Do(ctx, r.retrier, "eth_getCode", func() ([]byte, error) {
		return r.eth.CodeAt(ctx, dep.Address, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("读取合约代码失败: %w", err)
	}
	if len(code) == 0 {
		return nil, apperrors.Newf(apperrors.ErrDeploymentNotFound,
			"网络 %s 的地址 %s 上没有合约代码", dep.NetworkID, dep.Address.Hex()).
			WithContext("network_id", dep.NetworkID).
			WithContext("address", dep.Address.Hex())
	}
	return &Contract{Address: dep.Address, ABI: dep.ABI}, nil
}

// Call 执行eth_call并解码输出
func (r *RPCCapability) Call(ctx context.Context, c *Contract, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码调用 %s 失败: %w", method, err)
	}

	to := c.Address
	out, err := retry.Do(ctx, r.retrier, "eth_call:"+method, func() ([]byte, error) {
		return r.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		r.logger.WithFields(logging.RPCFields(method, r.nodeURL)).Debugf("eth_call失败: %v", err)
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}

	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	return values, nil
}

// Send 提交交易后轮询回执，直到上链或ctx结束。提交本身不重试。
func (r *RPCCapability) Send(ctx context.Context, c *Contract, opts *TxOpts, method string, args ...interface{}) (*types.Receipt, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码交易 %s 失败: %w", method, err)
	}

	to := c.Address
	txArgs := sendTxArgs{From: opts.From, To: &to, Data: data}
	if opts.GasLimit > 0 {
		gas := hexutil.Uint64(opts.GasLimit)
		txArgs.Gas = &gas
	}
	if opts.Value != nil && opts.Value.Sign() > 0 {
		txArgs.Value = (*hexutil.Big)(opts.Value)
	}

	var hash common.Hash
	if err := r.rpc.CallContext(ctx, &hash, "eth_sendTransaction", txArgs); err != nil {
		return nil, fmt.Errorf("提交交易 %s 失败: %w", method, err)
	}

	log := r.logger.WithFields(logging.TxFields(method, opts.From.Hex(), hash.Hex()))
	log.Info("交易已提交，等待回执")

	receipt, err := r.waitMined(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("等待交易 %s 回执失败: %w", hash.Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		log.Warn("交易执行失败")
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
	}

	log.WithField("block", receipt.BlockNumber).Info("交易已确认")
	return receipt, nil
}

// waitMined 轮询交易回执，没有本地超时
func (r *RPCCapability) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := r.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && !retry.IsRetryableError(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeLogs 订阅合约日志，HTTP连接不支持订阅时返回错误
func (r *RPCCapability) SubscribeLogs(ctx context.Context, c *Contract, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{Addresses: []common.Address{c.Address}}
	sub, err := r.eth.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("订阅合约日志失败: %w", err)
	}
	return sub, nil
}
