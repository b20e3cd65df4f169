package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fooddelivery/internal/service/order/domain"
	"fooddelivery/internal/service/order/port"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func int64Ptr(v int64) *int64 { return &v }

func newOrder(id int64, status domain.Status) *domain.Order {
	return &domain.Order{
		ID:             id,
		DisplayID:      fmt.Sprintf("A-%03d", id),
		CustomerChatID: int64Ptr(1000 + id),
		Status:         status,
		PaymentStatus:  domain.PaymentPending,
		TotalAmount:    decimal.RequireFromString("25.5"),
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func newStatusService(store *memStore, producer *fakeProducer) *OrderStatusService {
	clock := &stepClock{now: t0}
	var notifier port.NotificationProducer
	if producer != nil {
		notifier = producer
	}
	return NewOrderStatusService(store, store, store, notifier, noop.NewTracerProvider().Tracer("test"), time.Second, time.Second).
		WithClock(clock.Now)
}

func TestChangeStatusCommitsTransitionAndAudit(t *testing.T) {
	order := newOrder(1, domain.StatusNew)
	store := newMemStore(order)
	producer := &fakeProducer{}
	svc := newStatusService(store, producer)

	cc := domain.ChangeContext{
		Role:        domain.RoleAdmin,
		ActorUserID: int64Ptr(7),
		Comment:     "looks good",
		Metadata:    map[string]any{"source": "dashboard"},
	}
	changed, err := svc.ChangeStatus(context.Background(), order, domain.StatusAccepted, cc)
	if err != nil || !changed {
		t.Fatalf("ChangeStatus = %v, %v; want true, nil", changed, err)
	}

	if order.Status != domain.StatusAccepted {
		t.Errorf("in-memory status = %s, want accepted", order.Status)
	}
	if got := store.status(1); got != domain.StatusAccepted {
		t.Errorf("stored status = %s, want accepted", got)
	}

	history := store.historyOf(1)
	if len(history) != 1 {
		t.Fatalf("history records = %d, want 1", len(history))
	}
	rec := history[0]
	if rec.PreviousStatus != domain.StatusNew || rec.Status != domain.StatusAccepted {
		t.Errorf("history transition = %s -> %s, want new -> accepted", rec.PreviousStatus, rec.Status)
	}
	if rec.ActorRole != domain.RoleAdmin || rec.ActorUserID == nil || *rec.ActorUserID != 7 {
		t.Errorf("history actor = %s/%v, want admin/7", rec.ActorRole, rec.ActorUserID)
	}
	if rec.Comment != "looks good" || rec.Metadata["source"] != "dashboard" {
		t.Errorf("history comment/metadata not persisted: %+v", rec)
	}

	events := producer.ofKind(domain.KindStatusChanged)
	if len(events) != 1 {
		t.Fatalf("status_changed events = %d, want 1", len(events))
	}
	if events[0].PreviousStatus != domain.StatusNew || events[0].Status != domain.StatusAccepted {
		t.Errorf("event transition = %s -> %s", events[0].PreviousStatus, events[0].Status)
	}
	if events[0].EventID == "" {
		t.Error("event id should be set")
	}
}

func TestChangeStatusRejections(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		target domain.Status
		role   domain.Role
	}{
		{"terminal delivered", domain.StatusDelivered, domain.StatusCancelled, domain.RoleSystem},
		{"terminal cancelled", domain.StatusCancelled, domain.StatusAccepted, domain.RoleAdmin},
		{"same status", domain.StatusPreparing, domain.StatusPreparing, domain.RoleKitchen},
		{"admin cannot deliver new order", domain.StatusNew, domain.StatusDelivered, domain.RoleAdmin},
		{"kitchen cannot accept new order", domain.StatusNew, domain.StatusAccepted, domain.RoleKitchen},
		{"unknown target", domain.StatusNew, domain.Status("refunded"), domain.RoleAdmin},
		{"terminal without role", domain.StatusDelivered, domain.StatusInTransit, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := newOrder(1, tt.status)
			store := newMemStore(order)
			producer := &fakeProducer{}
			svc := newStatusService(store, producer)

			changed, err := svc.ChangeStatus(context.Background(), order, tt.target, domain.ChangeContext{Role: tt.role})
			if err != nil || changed {
				t.Fatalf("ChangeStatus = %v, %v; want false, nil", changed, err)
			}
			if got := store.status(1); got != tt.status {
				t.Errorf("stored status = %s, want unchanged %s", got, tt.status)
			}
			if order.Status != tt.status {
				t.Errorf("in-memory status = %s, want unchanged %s", order.Status, tt.status)
			}
			if n := len(store.historyOf(1)); n != 0 {
				t.Errorf("history records = %d, want 0", n)
			}
			if n := len(producer.events); n != 0 {
				t.Errorf("notifications = %d, want 0", n)
			}
			if store.txCommits != 0 {
				t.Errorf("rejected change should not open a transaction, commits = %d", store.txCommits)
			}
		})
	}
}

func TestChangeStatusWithoutRoleSkipsPermissionCheck(t *testing.T) {
	order := newOrder(1, domain.StatusNew)
	store := newMemStore(order)
	svc := newStatusService(store, nil)

	changed, err := svc.ChangeStatus(context.Background(), order, domain.StatusInTransit, domain.ChangeContext{})
	if err != nil || !changed {
		t.Fatalf("ChangeStatus = %v, %v; want true, nil", changed, err)
	}
	if rec := store.historyOf(1); len(rec) != 1 || rec[0].ActorRole != "" {
		t.Errorf("history = %+v, want one record without role", rec)
	}
}

func TestCustomerCancelThenAdminAcceptIsRejected(t *testing.T) {
	order := newOrder(1, domain.StatusNew)
	store := newMemStore(order)
	svc := newStatusService(store, &fakeProducer{})
	ctx := context.Background()

	changed, err := svc.ChangeStatus(ctx, order, domain.StatusCancelled, domain.ChangeContext{Role: domain.RoleUser, ActorUserID: int64Ptr(42)})
	if err != nil || !changed {
		t.Fatalf("user cancel = %v, %v; want true, nil", changed, err)
	}

	changed, err = svc.ChangeStatus(ctx, order, domain.StatusAccepted, domain.ChangeContext{Role: domain.RoleAdmin})
	if err != nil || changed {
		t.Fatalf("admin accept after cancel = %v, %v; want false, nil", changed, err)
	}

	history := store.historyOf(1)
	if len(history) != 1 || history[0].ActorRole != domain.RoleUser || history[0].Status != domain.StatusCancelled {
		t.Errorf("history = %+v, want a single user cancellation", history)
	}
	if got := store.status(1); got != domain.StatusCancelled {
		t.Errorf("stored status = %s, want cancelled", got)
	}
}

func TestChangeStatusDetectsStaleSnapshot(t *testing.T) {
	order := newOrder(1, domain.StatusAccepted)
	store := newMemStore(order)
	// 另一个写入者已经把订单改成了 cancelled，调用方手里的快照仍是 accepted
	store.orders[1].Status = domain.StatusCancelled
	producer := &fakeProducer{}
	svc := newStatusService(store, producer)

	changed, err := svc.ChangeStatus(context.Background(), order, domain.StatusSentToKitchen, domain.ChangeContext{Role: domain.RoleAdmin})
	if err != nil || changed {
		t.Fatalf("ChangeStatus = %v, %v; want false, nil", changed, err)
	}
	if got := store.status(1); got != domain.StatusCancelled {
		t.Errorf("stored status = %s, want cancelled", got)
	}
	if store.txRollback != 1 {
		t.Errorf("rollbacks = %d, want 1", store.txRollback)
	}
	if len(store.historyOf(1)) != 0 || len(producer.events) != 0 {
		t.Error("conflicting change must not be audited or notified")
	}
}

func TestChangeStatusRereadMismatchRollsBack(t *testing.T) {
	order := newOrder(1, domain.StatusAccepted)
	store := newMemStore(order)
	svc := newStatusService(store, nil)

	// CAS 命中后，回读得到的状态与期望不符（例如触发器改写），应当回滚
	tx := &rewritingUnitOfWork{memStore: store}
	svc.uow = tx

	changed, err := svc.ChangeStatus(context.Background(), order, domain.StatusSentToKitchen, domain.ChangeContext{Role: domain.RoleAdmin})
	if err != nil || changed {
		t.Fatalf("ChangeStatus = %v, %v; want false, nil", changed, err)
	}
	if got := store.status(1); got != domain.StatusAccepted {
		t.Errorf("stored status = %s, want rolled back to accepted", got)
	}
	if len(store.historyOf(1)) != 0 {
		t.Error("history must be rolled back")
	}
}

type rewritingUnitOfWork struct {
	*memStore
}

func (u *rewritingUnitOfWork) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w domain.StatusWriter) error) error {
	return u.memStore.WithinTransaction(ctx, func(ctx context.Context, w domain.StatusWriter) error {
		return fn(ctx, rewritingWriter{StatusWriter: w})
	})
}

type rewritingWriter struct {
	domain.StatusWriter
}

func (rewritingWriter) CurrentStatus(context.Context, int64) (domain.Status, error) {
	return domain.StatusPreparing, nil
}

func TestChangeStatusStorageErrorRollsBack(t *testing.T) {
	order := newOrder(1, domain.StatusNew)
	store := newMemStore(order)
	store.appendErr = errors.New("disk full")
	producer := &fakeProducer{}
	svc := newStatusService(store, producer)

	changed, err := svc.ChangeStatus(context.Background(), order, domain.StatusAccepted, domain.ChangeContext{Role: domain.RoleAdmin})
	if err == nil || changed {
		t.Fatalf("ChangeStatus = %v, %v; want false, error", changed, err)
	}
	if errors.Cause(err).Error() != "disk full" {
		t.Errorf("error cause = %v, want disk full", errors.Cause(err))
	}
	if got := store.status(1); got != domain.StatusNew {
		t.Errorf("stored status = %s, want rolled back to new", got)
	}
	if order.Status != domain.StatusNew {
		t.Errorf("in-memory status = %s, want new", order.Status)
	}
	if len(producer.events) != 0 {
		t.Error("failed transaction must not notify")
	}
}

func TestChangeStatusNotificationFailureKeepsCommit(t *testing.T) {
	order := newOrder(1, domain.StatusInTransit)
	store := newMemStore(order)
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	svc := newStatusService(store, producer)

	changed, err := svc.ChangeStatus(context.Background(), order, domain.StatusDelivered, domain.ChangeContext{Role: domain.RoleCourier})
	if err != nil || !changed {
		t.Fatalf("ChangeStatus = %v, %v; want true, nil", changed, err)
	}
	if got := store.status(1); got != domain.StatusDelivered {
		t.Errorf("stored status = %s, want delivered", got)
	}
}

func TestConcurrentTransitionsFirstCommitWins(t *testing.T) {
	store := newMemStore(newOrder(1, domain.StatusAccepted))
	svc := newStatusService(store, &fakeProducer{})

	type attempt struct {
		target domain.Status
		role   domain.Role
	}
	attempts := []attempt{
		{domain.StatusSentToKitchen, domain.RoleAdmin},
		{domain.StatusCancelled, domain.RoleSystem},
	}

	results := make([]bool, len(attempts))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, a := range attempts {
		// 两个调用方各自持有一份 accepted 的快照
		snapshot, _ := store.FindByID(context.Background(), 1)
		wg.Add(1)
		go func(i int, a attempt, order *domain.Order) {
			defer wg.Done()
			<-start
			changed, err := svc.ChangeStatus(context.Background(), order, a.target, domain.ChangeContext{Role: a.role})
			if err != nil {
				t.Errorf("attempt %d: unexpected error %v", i, err)
			}
			results[i] = changed
		}(i, a, snapshot)
	}
	close(start)
	wg.Wait()

	winners := 0
	var winner domain.Status
	for i, ok := range results {
		if ok {
			winners++
			winner = attempts[i].target
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if got := store.status(1); got != winner {
		t.Errorf("stored status = %s, want winner %s", got, winner)
	}
	history := store.historyOf(1)
	if len(history) != 1 || history[0].Status != winner || history[0].PreviousStatus != domain.StatusAccepted {
		t.Errorf("history = %+v, want one record accepted -> %s", history, winner)
	}
}

func TestGetStatusHistoryNewestFirstWithFilters(t *testing.T) {
	order := newOrder(1, domain.StatusNew)
	store := newMemStore(order)
	svc := newStatusService(store, nil)
	ctx := context.Background()

	steps := []struct {
		target domain.Status
		role   domain.Role
	}{
		{domain.StatusAccepted, domain.RoleAdmin},
		{domain.StatusSentToKitchen, domain.RoleAdmin},
		{domain.StatusKitchenAccepted, domain.RoleKitchen},
		{domain.StatusPreparing, domain.RoleKitchen},
	}
	for _, step := range steps {
		if ok, err := svc.ChangeStatus(ctx, order, step.target, domain.ChangeContext{Role: step.role}); !ok || err != nil {
			t.Fatalf("ChangeStatus(%s) = %v, %v", step.target, ok, err)
		}
	}

	all, err := svc.GetStatusHistory(ctx, 1, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("GetStatusHistory: %v", err)
	}
	if len(all) != len(steps) {
		t.Fatalf("history = %d records, want %d", len(all), len(steps))
	}
	for i := range all {
		want := steps[len(steps)-1-i].target
		if all[i].Status != want {
			t.Errorf("history[%d] = %s, want %s", i, all[i].Status, want)
		}
	}
	// 相邻记录首尾相接：较新记录的 previous 等于较旧记录的 status
	for i := 0; i+1 < len(all); i++ {
		if all[i].PreviousStatus != all[i+1].Status {
			t.Errorf("history chain broken at %d: %s != %s", i, all[i].PreviousStatus, all[i+1].Status)
		}
	}

	kitchen, _ := svc.GetStatusHistory(ctx, 1, domain.HistoryFilter{Role: domain.RoleKitchen})
	if len(kitchen) != 2 || kitchen[0].Status != domain.StatusPreparing {
		t.Errorf("kitchen history = %+v", kitchen)
	}
	accepted, _ := svc.GetStatusHistory(ctx, 1, domain.HistoryFilter{Status: domain.StatusAccepted})
	if len(accepted) != 1 || accepted[0].ActorRole != domain.RoleAdmin {
		t.Errorf("accepted history = %+v", accepted)
	}
}

func TestChangeStatusByIDUnknownOrder(t *testing.T) {
	svc := newStatusService(newMemStore(), nil)
	_, _, err := svc.ChangeStatusByID(context.Background(), 404, domain.StatusAccepted, domain.ChangeContext{Role: domain.RoleAdmin})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}
