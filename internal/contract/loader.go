package contract

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"eventchain/internal/config"
)

// DefaultContractName 默认合约名
const DefaultContractName = "EventContract"

// BuildDescriptor 按配置构建部署描述：先读产物文件，再合并内联部署
func BuildDescriptor(cfg *config.ContractConfig) (*Descriptor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("缺少合约配置")
	}

	d := NewDescriptor(DefaultContractName)
	if cfg.ArtifactPath != "" {
		loaded, err := LoadArtifact(cfg.ArtifactPath)
		if err != nil {
			return nil, err
		}
		if loaded.ContractName != "" {
			d.ContractName = loaded.ContractName
		}
		d.Merge(loaded)
	}

	inline := NewDescriptor(d.ContractName)
	for _, depCfg := range cfg.Deployments {
		contractABI, err := resolveABI(depCfg)
		if err != nil {
			return nil, fmt.Errorf("网络 %s: %w", depCfg.NetworkID, err)
		}
		dep, err := NewDeployment(depCfg.NetworkID, depCfg.Address, contractABI)
		if err != nil {
			return nil, err
		}
		inline.Add(dep)
	}
	d.Merge(inline)

	return d, nil
}

// resolveABI 内联ABI优先，其次ABI文件，都没有时使用内置ABI
func resolveABI(depCfg *config.DeploymentConfig) (abi.ABI, error) {
	raw := strings.TrimSpace(depCfg.ABI)
	if raw == "" && depCfg.ABIPath != "" {
		data, err := os.ReadFile(depCfg.ABIPath)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("读取ABI文件失败: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return DefaultABI(), nil
	}

	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析ABI失败: %w", err)
	}
	if err := CheckABI(parsed); err != nil {
		return abi.ABI{}, err
	}
	return parsed, nil
}
