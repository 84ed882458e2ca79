package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	apperrors "eventchain/internal/errors"
)

// Deployment 某个网络上的合约部署
type Deployment struct {
	NetworkID string
	Address   common.Address
	ABI       abi.ABI
	TxHash    string
}

// Descriptor 合约部署描述：网络ID到部署信息的映射，初始化时只读
type Descriptor struct {
	ContractName string
	deployments  map[string]*Deployment
}

// artifact Truffle编译产物中用到的字段
type artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Networks     map[string]struct {
		Address         string `json:"address"`
		TransactionHash string `json:"transactionHash"`
	} `json:"networks"`
}

// NewDescriptor 创建空的部署描述
func NewDescriptor(contractName string) *Descriptor {
	return &Descriptor{
		ContractName: contractName,
		deployments:  make(map[string]*Deployment),
	}
}

// LoadArtifact 从Truffle产物文件加载部署描述
func LoadArtifact(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取合约产物失败: %w", err)
	}
	return ParseArtifact(data)
}

// ParseArtifact 解析Truffle产物，格式为 {contractName, abi, networks: {<id>: {address}}}
func ParseArtifact(data []byte) (*Descriptor, error) {
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("解析合约产物失败: %w", err)
	}

	parsedABI := DefaultABI()
	if len(art.ABI) > 0 && !bytes.Equal(bytes.TrimSpace(art.ABI), []byte("null")) {
		var err error
		parsedABI, err = abi.JSON(bytes.NewReader(art.ABI))
		if err != nil {
			return nil, fmt.Errorf("解析合约ABI失败: %w", err)
		}
	}
	if err := CheckABI(parsedABI); err != nil {
		return nil, err
	}

	d := NewDescriptor(art.ContractName)
	for networkID, n := range art.Networks {
		dep, err := NewDeployment(networkID, n.Address, parsedABI)
		if err != nil {
			return nil, err
		}
		dep.TxHash = n.TransactionHash
		d.Add(dep)
	}
	return d, nil
}

// NewDeployment 校验地址后创建部署信息
func NewDeployment(networkID, address string, contractABI abi.ABI) (*Deployment, error) {
	networkID = strings.TrimSpace(networkID)
	if networkID == "" {
		return nil, fmt.Errorf("网络ID不能为空")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("网络 %s 的合约地址无效: %q", networkID, address)
	}
	return &Deployment{
		NetworkID: networkID,
		Address:   common.HexToAddress(address),
		ABI:       contractABI,
	}, nil
}

// CheckABI 确认ABI包含工作流需要的方法
func CheckABI(contractABI abi.ABI) error {
	for _, m := range RequiredMethods {
		if _, ok := contractABI.Methods[m]; !ok {
			return fmt.Errorf("合约ABI缺少方法: %s", m)
		}
	}
	return nil
}

// Add 添加或覆盖某网络的部署
func (d *Descriptor) Add(dep *Deployment) {
	d.deployments[dep.NetworkID] = dep
}

// Merge 合并另一份描述，other中的条目优先
func (d *Descriptor) Merge(other *Descriptor) {
	if other == nil {
		return
	}
	for _, dep := range other.deployments {
		d.Add(dep)
	}
}

// Lookup 查找当前网络的部署，不存在时返回DeploymentNotFound
func (d *Descriptor) Lookup(networkID string) (*Deployment, error) {
	dep, ok := d.deployments[networkID]
	if !ok || dep.Address == (common.Address{}) {
		return nil, apperrors.Newf(apperrors.ErrDeploymentNotFound,
			"合约 %s 在网络 %s 上没有部署，已知网络: %v", d.ContractName, networkID, d.Networks()).
			WithContext("network_id", networkID)
	}
	return dep, nil
}

// Networks 已知网络ID（排序后）
func (d *Descriptor) Networks() []string {
	ids := make([]string, 0, len(d.deployments))
	for id := range d.deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len 部署数量
func (d *Descriptor) Len() int {
	return len(d.deployments)
}
