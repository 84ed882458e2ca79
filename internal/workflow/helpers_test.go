package workflow

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"eventchain/internal/chain/chaintest"
	"eventchain/internal/contract"
	"eventchain/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	otherAddr    = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	admin        = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
	buyer        = common.HexToAddress("0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0")
)

// 合约内的当前时间，测试中的活动日期都在此之后
var chainNow = time.Unix(1700000000, 0)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestChain(t *testing.T) (*chaintest.Chain, *contract.Descriptor) {
	t.Helper()

	c := chaintest.New("5777", admin, buyer)
	c.Deploy(contractAddr)
	c.SetNow(func() time.Time { return chainNow })

	d := contract.NewDescriptor("EventContract")
	dep, err := contract.NewDeployment("5777", contractAddr.Hex(), contract.DefaultABI())
	require.NoError(t, err)
	d.Add(dep)
	return c, d
}

func newTestWorkflow(t *testing.T, opts Options) (*EventWorkflow, *chaintest.Chain) {
	t.Helper()
	c, d := newTestChain(t)
	w, err := Initialize(context.Background(), c, d, opts, quietLogger())
	require.NoError(t, err)
	return w, c
}

func seed(c *chaintest.Chain, name string, priceWei int64, count, remain int64) uint64 {
	return c.SeedEvent(contractAddr, chaintest.Event{
		Admin:        admin,
		Name:         name,
		Date:         big.NewInt(1999999999),
		Price:        big.NewInt(priceWei),
		TicketCount:  big.NewInt(count),
		TicketRemain: big.NewInt(remain),
	})
}

// recordingSink 记录收到的操作和快照
type recordingSink struct {
	mu         sync.Mutex
	activities []*models.Activity
	snapshots  []*models.Snapshot
}

func (s *recordingSink) RecordActivity(_ context.Context, a *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.activities = append(s.activities, &cp)
	return nil
}

func (s *recordingSink) RecordSnapshot(_ context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *recordingSink) Activities() []*models.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Activity(nil), s.activities...)
}

func (s *recordingSink) Snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
