package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 合约方法名
const (
	MethodNextID      = "nextId"
	MethodEvents      = "events"
	MethodCreateEvent = "createEvent"
	MethodBuyTicket   = "buyTicket"
)

// EventContractABI EventContract合约ABI
const EventContractABI = `[
  {
    "inputs": [],
    "name": "nextId",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "name": "events",
    "outputs": [
      {"internalType": "address", "name": "admin", "type": "address"},
      {"internalType": "string", "name": "name", "type": "string"},
      {"internalType": "uint256", "name": "date", "type": "uint256"},
      {"internalType": "uint256", "name": "price", "type": "uint256"},
      {"internalType": "uint256", "name": "ticketCount", "type": "uint256"},
      {"internalType": "uint256", "name": "ticketRemain", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "string", "name": "name", "type": "string"},
      {"internalType": "uint256", "name": "date", "type": "uint256"},
      {"internalType": "uint256", "name": "price", "type": "uint256"},
      {"internalType": "uint256", "name": "ticketCount", "type": "uint256"}
    ],
    "name": "createEvent",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "id", "type": "uint256"},
      {"internalType": "uint256", "name": "quantity", "type": "uint256"}
    ],
    "name": "buyTicket",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "admin", "type": "address"}
    ],
    "name": "EventCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "quantity", "type": "uint256"}
    ],
    "name": "TicketsPurchased",
    "type": "event"
  }
]`

// DefaultABI 解析内置ABI
func DefaultABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(EventContractABI))
	if err != nil {
		// 内置常量，解析失败属于编码错误
		panic("解析内置EventContract ABI失败: " + err.Error())
	}
	return parsed
}

// RequiredMethods 工作流依赖的合约方法
var RequiredMethods = []string{MethodNextID, MethodEvents, MethodCreateEvent, MethodBuyTicket}
