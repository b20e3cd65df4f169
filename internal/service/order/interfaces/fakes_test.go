package interfaces

import (
	"context"
	"sync"
	"time"

	"fooddelivery/internal/service/order/application"
	"fooddelivery/internal/service/order/domain"
	"fooddelivery/internal/service/order/port"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// fakeStatusService 用权限表直接在内存里修改状态
type fakeStatusService struct {
	mu      sync.Mutex
	orders  map[int64]*domain.Order
	history map[int64][]*domain.StatusHistoryRecord
	calls   []domain.ChangeContext
	err     error
}

func newFakeStatusService(orders ...*domain.Order) *fakeStatusService {
	s := &fakeStatusService{orders: map[int64]*domain.Order{}, history: map[int64][]*domain.StatusHistoryRecord{}}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeStatusService) ChangeStatusByID(_ context.Context, orderID int64, newStatus domain.Status, cc domain.ChangeContext) (bool, *domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cc)
	if s.err != nil {
		return false, nil, s.err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return false, nil, domain.ErrOrderNotFound
	}
	if cc.Role != "" && !domain.CanChangeStatus(o.Status, newStatus, cc.Role) {
		return false, o, nil
	}
	if o.Status.IsTerminal() || o.Status == newStatus {
		return false, o, nil
	}
	prev := o.Status
	o.ApplyStatus(newStatus, time.Now())
	s.history[orderID] = append([]*domain.StatusHistoryRecord{
		domain.NewStatusHistoryRecord(orderID, prev, newStatus, cc, time.Now()),
	}, s.history[orderID]...)
	return true, o, nil
}

func (s *fakeStatusService) GetOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeStatusService) GetStatusHistory(_ context.Context, orderID int64, filter domain.HistoryFilter) ([]*domain.StatusHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.StatusHistoryRecord
	for _, r := range s.history[orderID] {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeBot struct {
	mu       sync.Mutex
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
}

func newFakeBot() *fakeBot { return &fakeBot{updates: make(chan tgbotapi.Update, 8)} }

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return b.updates }

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) answers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, r := range b.requests {
		if cb, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (port.Lock, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, domain.ErrLockNotAcquired
	}
	l.held = true
	return fakeLock{l}, nil
}

type fakeLock struct{ l *fakeLocker }

func (f fakeLock) Release(context.Context) error {
	f.l.held = false
	f.l.released++
	return nil
}

type fakeRunner struct {
	runs     int
	gotNow   time.Time
	settings port.SweepSettings
	report   application.SweepReport
	err      error
}

func (r *fakeRunner) Run(_ context.Context, now time.Time, settings port.SweepSettings) (application.SweepReport, error) {
	r.runs++
	r.gotNow = now
	r.settings = settings
	return r.report, r.err
}

type fakeSettings struct {
	settings port.SweepSettings
	err      error
}

func (f fakeSettings) SweepSettings(context.Context) (port.SweepSettings, error) {
	return f.settings, f.err
}

var errStorage = errors.New("storage unavailable")
