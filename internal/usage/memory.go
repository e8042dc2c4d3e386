package usage

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/vnmchuo/chat-backend/internal/store"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	records map[string]map[string]*store.UsageRecord // user -> date -> record
}

// MemoryStore keeps usage in process. Each user hashes to one shard, and
// all mutation of that user's records happens under the shard lock.
type MemoryStore struct {
	shards [shardCount]*shard
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i] = &shard{records: make(map[string]map[string]*store.UsageRecord)}
	}
	return m
}

func (m *MemoryStore) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryStore) AddUsage(ctx context.Context, userID, date string, input, output int64) (*store.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := m.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	days, ok := sh.records[userID]
	if !ok {
		days = make(map[string]*store.UsageRecord)
		sh.records[userID] = days
	}
	rec, ok := days[date]
	if !ok {
		rec = &store.UsageRecord{UserID: userID, Date: date}
		days[date] = rec
	}
	rec.InputTokens += input
	rec.OutputTokens += output
	rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	rec.MessageCount++

	out := *rec
	return &out, nil
}

func (m *MemoryStore) GetUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	sh := m.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[userID][date]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (m *MemoryStore) ListUsage(ctx context.Context, userID string) ([]*store.UsageRecord, error) {
	sh := m.shardFor(userID)
	sh.mu.Lock()
	records := make([]*store.UsageRecord, 0, len(sh.records[userID]))
	for _, rec := range sh.records[userID] {
		out := *rec
		records = append(records, &out)
	}
	sh.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}
