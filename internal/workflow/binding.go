package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// ChainBinding 一次会话内对合约的绑定，创建后不再修改，重连时整体替换
type ChainBinding struct {
	Capability    chain.Capability
	NetworkID     string
	Deployment    *contract.Deployment
	Contract      *chain.Contract
	ActiveAccount common.Address
	KnownAccounts []common.Address
	BoundAt       time.Time
}

// Bind 解析网络、部署地址和账户，构造新的绑定。不提交任何交易。
func Bind(ctx context.Context, capability chain.Capability, descriptor *contract.Descriptor, account string) (*ChainBinding, error) {
	if capability == nil || descriptor == nil {
		return nil, apperrors.Newf(apperrors.ErrConfigInvalid, "缺少链连接或部署描述")
	}

	networkID, err := capability.NetworkID(ctx)
	if err != nil {
		return nil, apperrors.From(apperrors.ErrConnectionFailed, err).WithComponent("binding")
	}

	dep, err := descriptor.Lookup(networkID)
	if err != nil {
		return nil, err
	}

	bound, err := capability.BindContract(ctx, dep)
	if err != nil {
		var wfErr *apperrors.WorkflowError
		if errors.As(err, &wfErr) {
			return nil, err
		}
		return nil, apperrors.From(apperrors.ErrConnectionFailed, err).
			WithComponent("binding").
			WithContext("network_id", networkID)
	}

	accounts, err := capability.Accounts(ctx)
	if err != nil {
		return nil, apperrors.From(apperrors.ErrConnectionFailed, err).WithComponent("binding")
	}

	active, err := selectAccount(accounts, account)
	if err != nil {
		return nil, err
	}

	return &ChainBinding{
		Capability:    capability,
		NetworkID:     networkID,
		Deployment:    dep,
		Contract:      bound,
		ActiveAccount: active,
		KnownAccounts: accounts,
		BoundAt:       time.Now(),
	}, nil
}

// selectAccount 未指定时使用第一个账户；指定的账户必须在节点账户列表中
func selectAccount(accounts []common.Address, preferred string) (common.Address, error) {
	if len(accounts) == 0 {
		return common.Address{}, apperrors.Newf(apperrors.ErrAccountNotFound, "节点没有可用账户")
	}

	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return accounts[0], nil
	}
	if !common.IsHexAddress(preferred) {
		return common.Address{}, apperrors.Newf(apperrors.ErrAccountNotFound, "账户地址格式无效: %q", preferred)
	}

	want := common.HexToAddress(preferred)
	for _, a := range accounts {
		if a == want {
			return a, nil
		}
	}
	return common.Address{}, apperrors.Newf(apperrors.ErrAccountNotFound,
		"账户 %s 不在节点账户列表中", want.Hex()).WithContext("account", want.Hex())
}

// WithActiveAccount 返回切换活跃账户后的新绑定
func (b *ChainBinding) WithActiveAccount(account string) (*ChainBinding, error) {
	active, err := selectAccount(b.KnownAccounts, account)
	if err != nil {
		return nil, err
	}
	next := *b
	next.ActiveAccount = active
	next.KnownAccounts = append([]common.Address(nil), b.KnownAccounts...)
	return &next, nil
}

// BindingInfo 绑定的可序列化视图
type BindingInfo struct {
	NetworkID     string    `json:"network_id"`
	Contract      string    `json:"contract"`
	ActiveAccount string    `json:"active_account"`
	KnownAccounts []string  `json:"known_accounts"`
	BoundAt       time.Time `json:"bound_at"`
}

// Info 返回绑定的可序列化视图
func (b *ChainBinding) Info() BindingInfo {
	known := make([]string, 0, len(b.KnownAccounts))
	for _, a := range b.KnownAccounts {
		known = append(known, a.Hex())
	}
	return BindingInfo{
		NetworkID:     b.NetworkID,
		Contract:      b.Contract.Address.Hex(),
		ActiveAccount: b.ActiveAccount.Hex(),
		KnownAccounts: known,
		BoundAt:       b.BoundAt,
	}
}
