package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// EtherDecimals 1 ether = 10^18 wei
const EtherDecimals = 18

var weiPerEther = big.NewInt(params.Ether)

// ParseEther 将ether为单位的十进制字符串转换为wei。
// 小数位超过18位时无法无损表示，直接报错而不是截断。
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("金额不能为空")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("金额不能为负数: %s", s)
	}
	s = strings.TrimPrefix(s, "+")

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" && (!hasDot || fracPart == "") {
		return nil, fmt.Errorf("无效的金额: %q", s)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, fmt.Errorf("无效的金额: %q", s)
	}
	if len(fracPart) > EtherDecimals {
		return nil, fmt.Errorf("金额精度超过 %d 位小数: %s", EtherDecimals, s)
	}

	digits := intPart + fracPart + strings.Repeat("0", EtherDecimals-len(fracPart))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("无效的金额: %q", s)
	}
	return wei, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FormatEther 将wei格式化为ether字符串，去掉末尾的0
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)

	q, r := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		frac := r.String()
		frac = strings.Repeat("0", EtherDecimals-len(frac)) + frac
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ToWei 将十进制ether数值转换为wei，向零截断
func ToWei(ether *big.Rat) *big.Int {
	if ether == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(ether.Num(), weiPerEther)
	return num.Quo(num, ether.Denom())
}

// FromWei wei转换为精确的ether数值
func FromWei(wei *big.Int) *big.Rat {
	if wei == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(wei, weiPerEther)
}

// TotalDue 计算购票应付金额：单价(ether) * 数量，再按同一截断规则换算回wei
func TotalDue(unitPriceWei *big.Int, quantity uint64) *big.Int {
	total := FromWei(unitPriceWei)
	total.Mul(total, new(big.Rat).SetInt(new(big.Int).SetUint64(quantity)))
	return ToWei(total)
}
