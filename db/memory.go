package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/timer"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// MemoryStore is a process-local store with the same semantics as Store. It
// backs STORE_BACKEND=memory for rehearsals and the engine tests. Nothing
// survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	round    show.Round
	items    map[string]show.Item
	queue    map[string]int
	judge    map[[2]string]votes.JudgeBallot
	audience map[[2]string]votes.AudienceBallot
	judges   map[string]show.Judge
	kv       map[string]string
	tokens   map[string]oauth.Token
}

var (
	_ show.Store       = (*MemoryStore)(nil)
	_ oauth.TokenStore = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store whose idle timer is stamped with now.
func NewMemoryStore(now time.Time) *MemoryStore {
	return &MemoryStore{
		round:    show.InitialRound(timer.DefaultDuration, now),
		items:    map[string]show.Item{},
		queue:    map[string]int{},
		judge:    map[[2]string]votes.JudgeBallot{},
		audience: map[[2]string]votes.AudienceBallot{},
		judges:   map[string]show.Judge{},
		kv:       map[string]string{},
		tokens:   map[string]oauth.Token{},
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) LoadRound(context.Context) (show.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round, nil
}

func (m *MemoryStore) CommitRound(_ context.Context, c show.Commit) (show.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round.Version != c.Expect {
		return show.Round{}, show.ErrStaleRound
	}
	if c.Dequeue != "" && !c.Wipe {
		if ids := m.ordered(); len(ids) == 0 || ids[0] != c.Dequeue {
			return show.Round{}, show.ErrStaleRound
		}
	}
	if c.Wipe {
		m.items = map[string]show.Item{}
		m.queue = map[string]int{}
		m.judge = map[[2]string]votes.JudgeBallot{}
		m.audience = map[[2]string]votes.AudienceBallot{}
	}
	delete(m.queue, c.Dequeue)
	for _, sc := range c.Statuses {
		if it, ok := m.items[sc.ItemID]; ok {
			it.Status = sc.Status
			m.items[sc.ItemID] = it
		}
	}
	next := c.Next
	next.Version = c.Expect + 1
	m.round = next
	return next, nil
}

func (m *MemoryStore) CreateItem(_ context.Context, it show.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (*show.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *MemoryStore) ListItems(context.Context) ([]show.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]show.Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Enqueue(_ context.Context, itemID string) (show.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.queue[itemID]; ok {
		return show.QueueEntry{ItemID: itemID, Rank: r}, nil
	}
	max := 0
	for _, r := range m.queue {
		if r > max {
			max = r
		}
	}
	m.queue[itemID] = max + show.RankStep
	if it, ok := m.items[itemID]; ok {
		it.Status = show.ItemQueued
		m.items[itemID] = it
	}
	return show.QueueEntry{ItemID: itemID, Rank: m.queue[itemID]}, nil
}

// ordered returns queued ids by rank; callers hold mu.
func (m *MemoryStore) ordered() []string {
	ids := make([]string, 0, len(m.queue))
	for id := range m.queue {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if m.queue[ids[i]] != m.queue[ids[j]] {
			return m.queue[ids[i]] < m.queue[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (m *MemoryStore) PeekQueue(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.ordered()
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

func (m *MemoryStore) ListQueue(context.Context) ([]show.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []show.QueueEntry{}
	for i, id := range m.ordered() {
		e := show.QueueEntry{ItemID: id, Rank: m.queue[id], Position: i + 1}
		if it, ok := m.items[id]; ok {
			e.Item = &it
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) RemoveFromQueue(_ context.Context, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[itemID]
	delete(m.queue, itemID)
	return ok, nil
}

func (m *MemoryStore) ReorderQueue(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := show.CheckPermutation(m.ordered(), ids); err != nil {
		return err
	}
	for i, id := range ids {
		m.queue[id] = (i + 1) * show.RankStep
	}
	return nil
}

func (m *MemoryStore) UpsertJudgeVote(_ context.Context, b votes.JudgeBallot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.judge[[2]string{b.ItemID, b.JudgeID}] = b
	return nil
}

func (m *MemoryStore) DeleteJudgeVote(_ context.Context, itemID, judgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.judge, [2]string{itemID, judgeID})
	return nil
}

func (m *MemoryStore) JudgeVotes(_ context.Context, itemID string) ([]votes.JudgeBallot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []votes.JudgeBallot
	for k, b := range m.judge {
		if k[0] == itemID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].JudgeID < out[j].JudgeID
	})
	return out, nil
}

func (m *MemoryStore) AudienceVotes(_ context.Context, itemID string) ([]votes.AudienceBallot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []votes.AudienceBallot
	for k, b := range m.audience {
		if k[0] == itemID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) CastVote(_ context.Context, b votes.Ballot, round uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round.Version != round {
		return show.ErrStaleRound
	}
	switch v := b.(type) {
	case votes.JudgeBallot:
		m.judge[[2]string{v.ItemID, v.JudgeID}] = v
	case votes.AudienceBallot:
		m.audience[[2]string{v.ItemID, v.VoterID}] = v
	default:
		return fmt.Errorf("unsupported ballot %T", b)
	}
	return nil
}

func (m *MemoryStore) ClearVotes(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.judge = map[[2]string]votes.JudgeBallot{}
	m.audience = map[[2]string]votes.AudienceBallot{}
	return nil
}

func (m *MemoryStore) CreateJudge(_ context.Context, j show.Judge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.judges[j.ID]; ok {
		return fmt.Errorf("judge %s already exists", j.ID)
	}
	m.judges[j.ID] = j
	return nil
}

func (m *MemoryStore) ListJudges(context.Context) ([]show.Judge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]show.Judge, 0, len(m.judges))
	for _, j := range m.judges {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetJudge(_ context.Context, id string) (*show.Judge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.judges[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *MemoryStore) JudgeByToken(_ context.Context, token string) (*show.Judge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.judges {
		if j.Token == token {
			return &j, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpdateJudge(_ context.Context, j show.Judge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.judges[j.ID]; !ok {
		return fmt.Errorf("judge %s not found", j.ID)
	}
	m.judges[j.ID] = j
	return nil
}

func (m *MemoryStore) GetValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemoryStore) SetValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) DeleteValue(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStore) SaveToken(_ context.Context, provider string, t oauth.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[provider] = t
	return nil
}

func (m *MemoryStore) LoadToken(_ context.Context, provider string) (oauth.Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[provider]
	return t, ok, nil
}

func (m *MemoryStore) DeleteToken(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, provider)
	return nil
}
