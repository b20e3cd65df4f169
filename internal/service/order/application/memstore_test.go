package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"fooddelivery/internal/service/order/domain"
)

// memStore 是 OrderRepository / StatusHistoryRepository / UnitOfWork 的内存实现。
// 事务期间持有互斥锁，效果等同于行锁串行化；fn 返回错误时回滚。
type memStore struct {
	mu      sync.Mutex
	orders  map[int64]*domain.Order
	history []*domain.StatusHistoryRecord
	nextID  int64

	appendErr  error
	findErr    error
	beforeCAS  func(s *memStore, orderID int64) // 在事务内、CAS 之前执行，模拟并发写入
	findCalls  int
	findWait   bool // 查询阻塞直到 ctx 结束，模拟卡住的数据库
	txCommits  int
	txRollback int
}

func newMemStore(orders ...*domain.Order) *memStore {
	s := &memStore{orders: make(map[int64]*domain.Order)}
	for _, o := range orders {
		cp := *o
		s.orders[o.ID] = &cp
	}
	return s
}

func (s *memStore) FindByID(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) FindExpiredUnpaid(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*domain.Order, error) {
	if s.findWait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}

	var out []*domain.Order
	for _, o := range s.orders {
		if o.ID <= afterID || o.PaymentStatus != domain.PaymentPending || o.Status.IsTerminal() || o.CreatedAt.After(cutoff) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListByOrder(_ context.Context, orderID int64, filter domain.HistoryFilter) ([]*domain.StatusHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.StatusHistoryRecord
	for _, rec := range s.history {
		if rec.OrderID == orderID && filter.Matches(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *memStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w domain.StatusWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]domain.Order, len(s.orders))
	for id, o := range s.orders {
		snapshot[id] = *o
	}
	historyLen := len(s.history)

	if err := fn(ctx, &memTx{s: s}); err != nil {
		for id, o := range snapshot {
			cp := o
			s.orders[id] = &cp
		}
		s.history = s.history[:historyLen]
		s.txRollback++
		return err
	}
	s.txCommits++
	return nil
}

func (s *memStore) status(id int64) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

func (s *memStore) historyOf(id int64) []*domain.StatusHistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.StatusHistoryRecord
	for _, rec := range s.history {
		if rec.OrderID == id {
			out = append(out, rec)
		}
	}
	return out
}

// memTx 只在 WithinTransaction 持锁期间使用，因此不再加锁。
type memTx struct {
	s *memStore
}

func (t *memTx) CompareAndSetStatus(_ context.Context, orderID int64, expected, next domain.Status, at time.Time) (bool, error) {
	if t.s.beforeCAS != nil {
		t.s.beforeCAS(t.s, orderID)
	}
	o, ok := t.s.orders[orderID]
	if !ok || o.Status != expected {
		return false, nil
	}
	o.Status = next
	o.UpdatedAt = at
	return true, nil
}

func (t *memTx) CurrentStatus(_ context.Context, orderID int64) (domain.Status, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return o.Status, nil
}

func (t *memTx) AppendHistory(_ context.Context, rec *domain.StatusHistoryRecord) error {
	if t.s.appendErr != nil {
		return t.s.appendErr
	}
	t.s.nextID++
	rec.ID = t.s.nextID
	cp := *rec
	t.s.history = append(t.s.history, &cp)
	return nil
}

// fakeProducer 记录所有投递的通知。
type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.NotificationEvent
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, event *domain.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakeProducer) ofKind(kind domain.NotificationKind) []*domain.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.NotificationEvent
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// stepClock 每次调用前进一秒，保证审计记录的时间严格递增。
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
