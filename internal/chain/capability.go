package chain

import (
	"context"
	"errors"
	"math/big"

	"eventchain/internal/contract"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrTransactionReverted 交易已上链但执行失败（回执status为0）
var ErrTransactionReverted = errors.New("交易执行失败")

// Contract 已绑定的合约句柄
type Contract struct {
	Address common.Address
	ABI     abi.ABI
}

// TxOpts 发送交易的参数
type TxOpts struct {
	From     common.Address
	Value    *big.Int // 随交易附带的wei，nil表示0
	GasLimit uint64   // 0表示由节点估算
}

// Capability 工作流对区块链的全部依赖
type Capability interface {
	// NetworkID 当前连接的网络ID（net_version）
	NetworkID(ctx context.Context) (string, error)
	// Accounts 节点管理的账户（eth_accounts）
	Accounts(ctx context.Context) ([]common.Address, error)
	// BindContract 绑定部署地址，地址上没有合约代码时失败
	BindContract(ctx context.Context, dep *contract.Deployment) (*Contract, error)
	// Call 只读调用，返回ABI解码后的输出
	Call(ctx context.Context, c *Contract, method string, args ...interface{}) ([]interface{}, error)
	// Send 提交交易并等待回执。回执status为0时同时返回回执和ErrTransactionReverted。
	Send(ctx context.Context, c *Contract, opts *TxOpts, method string, args ...interface{}) (*types.Receipt, error)
	// SubscribeLogs 订阅合约地址上的日志
	SubscribeLogs(ctx context.Context, c *Contract, ch chan<- types.Log) (ethereum.Subscription, error)
}
