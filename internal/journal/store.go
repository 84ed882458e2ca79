package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"eventchain/pkg/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/journal.db"

	// 存储桶名称
	ActivityBucket = "activity"
	SnapshotBucket = "snapshots"
	StatsBucket    = "stats"

	// 统计键
	succeededKey    = "succeeded"
	failedKey       = "failed"
	lastActivityKey = "last_activity"
)

// Stats 操作统计
type Stats struct {
	TotalActivities uint64    `json:"total_activities"`
	Succeeded       uint64    `json:"succeeded"`
	Failed          uint64    `json:"failed"`
	LastActivity    time.Time `json:"last_activity"`
}

// Filter 历史记录查询条件
type Filter struct {
	Kind    models.ActivityKind
	EventID *uint64
	Limit   int // 0表示不限制
}

func (f Filter) match(a *models.Activity) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.EventID != nil && (a.EventID == nil || *a.EventID != *f.EventID) {
		return false
	}
	return true
}

// Store 本地操作记录，保存写操作历史和每个合约最近一次的活动快照
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	// 内存缓存
	cache *Stats
}

// NewStore 打开或创建操作记录数据库
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开操作记录数据库失败: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		cache:  &Stats{},
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if err := s.loadCache(); err != nil {
		logger.Warnf("加载操作统计失败: %v", err)
	}

	logger.Infof("操作记录已打开，数据库路径: %s", dbPath)
	return s, nil
}

// initDB 初始化数据库结构
func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ActivityBucket, SnapshotBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// loadCache 加载统计缓存
func (s *Store) loadCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bolt.Tx) error {
		s.cache.TotalActivities = uint64(tx.Bucket([]byte(ActivityBucket)).Stats().KeyN)

		bucket := tx.Bucket([]byte(StatsBucket))
		if data := bucket.Get([]byte(succeededKey)); len(data) == 8 {
			s.cache.Succeeded = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(failedKey)); len(data) == 8 {
			s.cache.Failed = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(lastActivityKey)); data != nil {
			var last time.Time
			if err := json.Unmarshal(data, &last); err == nil {
				s.cache.LastActivity = last
			}
		}
		return nil
	})
}

// RecordActivity 追加一条操作记录
func (s *Store) RecordActivity(_ context.Context, activity *models.Activity) error {
	if activity == nil {
		return nil
	}
	data, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("序列化操作记录失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := *s.cache
	stats.TotalActivities++
	stats.LastActivity = activity.Timestamp
	counterKey := succeededKey
	if activity.Status == models.ActivityFailed {
		stats.Failed++
		counterKey = failedKey
	} else {
		stats.Succeeded++
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		if err := bucket.Put(uint64Key(seq), data); err != nil {
			return fmt.Errorf("保存操作记录失败: %w", err)
		}

		statsBucket := tx.Bucket([]byte(StatsBucket))
		count := stats.Succeeded
		if counterKey == failedKey {
			count = stats.Failed
		}
		if err := statsBucket.Put([]byte(counterKey), uint64Key(count)); err != nil {
			return fmt.Errorf("保存操作统计失败: %w", err)
		}
		if lastData, err := json.Marshal(stats.LastActivity); err == nil {
			statsBucket.Put([]byte(lastActivityKey), lastData)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache = &stats
	return nil
}

// RecordSnapshot 保存合约最近一次的活动快照，覆盖旧快照
func (s *Store) RecordSnapshot(_ context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(SnapshotBucket))
		if err := bucket.Put(snapshotKey(snapshot.NetworkID, snapshot.Contract), data); err != nil {
			return fmt.Errorf("保存快照失败: %w", err)
		}
		return nil
	})
}

// LastSnapshot 读取合约最近一次的快照，不存在时返回nil
func (s *Store) LastSnapshot(networkID, contract string) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(SnapshotBucket)).Get(snapshotKey(networkID, contract))
		if data == nil {
			return nil
		}
		snap = &models.Snapshot{}
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}
	return snap, nil
}

// History 按时间倒序返回操作记录
func (s *Store) History(filter Filter) ([]*models.Activity, error) {
	var out []*models.Activity
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(ActivityBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var a models.Activity
			if err := json.Unmarshal(v, &a); err != nil {
				s.logger.Warnf("跳过无法解析的操作记录 %d: %v", binary.BigEndian.Uint64(k), err)
				continue
			}
			if !filter.match(&a) {
				continue
			}
			out = append(out, &a)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取操作记录失败: %w", err)
	}
	return out, nil
}

// GetStats 获取统计信息
func (s *Store) GetStats() *Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := *s.cache
	return &stats
}

// Reset 清空全部记录
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ActivityBucket, SnapshotBucket, StatsBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("清空操作记录失败: %w", err)
	}
	s.cache = &Stats{}
	return nil
}

// GetDBPath 获取数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭操作记录")
		return s.db.Close()
	}
	return nil
}

func uint64Key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func snapshotKey(networkID, contract string) []byte {
	return []byte(networkID + "/" + contract)
}
