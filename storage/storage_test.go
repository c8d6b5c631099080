package storage

import (
	"context"
	"testing"

	webpush "github.com/maicoln90cpu/boardmd-sub001"
)

func TestMemory(t *testing.T) {
	testStorage(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close()

	testStorage(t, s)
}

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	record := &Record{
		ID:         "test-id-1",
		UserID:     "user-1",
		DeviceName: "Pixel 9",
		Subscription: &webpush.Subscription{
			Endpoint: "https://push.example.com/abc123",
			Keys: webpush.Keys{
				P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
				Auth:   "tBHItJI5svbpez7KI4CCXg",
			},
		},
	}

	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != record.ID {
		t.Errorf("Get() ID = %q, want %q", got.ID, record.ID)
	}
	if got.UserID != record.UserID {
		t.Errorf("Get() UserID = %q, want %q", got.UserID, record.UserID)
	}
	if got.DeviceName != record.DeviceName {
		t.Errorf("Get() DeviceName = %q, want %q", got.DeviceName, record.DeviceName)
	}
	if got.Subscription.Endpoint != record.Subscription.Endpoint {
		t.Errorf("Get() Endpoint = %q, want %q", got.Subscription.Endpoint, record.Subscription.Endpoint)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Get() CreatedAt is zero")
	}

	got, err = s.GetByEndpoint(ctx, record.Subscription.Endpoint)
	if err != nil {
		t.Fatalf("GetByEndpoint() error = %v", err)
	}
	if got.ID != record.ID {
		t.Errorf("GetByEndpoint() ID = %q, want %q", got.ID, record.ID)
	}

	// Target carries registry metadata into the dispatcher.
	target := got.Target()
	if target.ID != record.ID || target.DeviceName != record.DeviceName {
		t.Errorf("Target() = %+v, want id/device carried through", target)
	}

	record2 := &Record{
		ID:     "test-id-2",
		UserID: "user-1",
		Subscription: &webpush.Subscription{
			Endpoint: "https://push.example.com/def456",
			Keys:     webpush.Keys{P256dh: "key2", Auth: "auth2"},
		},
	}
	if err := s.Save(ctx, record2); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	records, err := s.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("GetByUserID() count = %d, want 2", len(records))
	}

	records, err = s.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("List() count = %d, want 2", len(records))
	}

	records, err = s.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List(limit=1) count = %d, want 1", len(records))
	}

	if err := s.Delete(ctx, record.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, record.ID); err != ErrNotFound {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteByEndpoint(ctx, record2.Subscription.Endpoint); err != nil {
		t.Fatalf("DeleteByEndpoint() error = %v", err)
	}
	if _, err := s.GetByEndpoint(ctx, record2.Subscription.Endpoint); err != ErrNotFound {
		t.Errorf("GetByEndpoint() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemory_NotFound(t *testing.T) {
	testNotFound(t, NewMemory())
}

func TestSQLite_NotFound(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close()

	testNotFound(t, s)
}

func testNotFound(t *testing.T, s Storage) {
	ctx := context.Background()

	if _, err := s.Get(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetByEndpoint(ctx, "https://nonexistent"); err != ErrNotFound {
		t.Errorf("GetByEndpoint() error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteByEndpoint(ctx, "https://nonexistent"); err != ErrNotFound {
		t.Errorf("DeleteByEndpoint() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_DeliveryLog(t *testing.T) {
	testDeliveryLog(t, NewMemory())
}

func TestSQLite_DeliveryLog(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close()

	testDeliveryLog(t, s)
}

func testDeliveryLog(t *testing.T, s Storage) {
	ctx := context.Background()

	outcomes := []*webpush.DeliveryOutcome{
		{SubscriptionID: "sub-1", DeviceName: "Pixel 9", NotificationType: "task_due", Success: true, StatusCode: 201, LatencyMs: 120},
		{SubscriptionID: "sub-2", Success: false, StatusCode: 410, LatencyMs: 95, ErrorMessage: "push service returned 410: subscription expired"},
		{SubscriptionID: "sub-3", Success: false, ErrorMessage: "malformed subscription"},
	}
	for _, o := range outcomes {
		if err := s.LogOutcome(ctx, o); err != nil {
			t.Fatalf("LogOutcome() error = %v", err)
		}
	}

	got, err := s.ListOutcomes(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListOutcomes() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListOutcomes() count = %d, want 3", len(got))
	}
	for _, rec := range got {
		if rec.ID == "" {
			t.Error("outcome record has no id")
		}
		if rec.CreatedAt.IsZero() {
			t.Error("outcome record has zero timestamp")
		}
	}

	byID := map[string]*OutcomeRecord{}
	for _, rec := range got {
		byID[rec.Outcome.SubscriptionID] = rec
	}
	if !byID["sub-1"].Outcome.Success || byID["sub-1"].Outcome.StatusCode != 201 {
		t.Errorf("sub-1 outcome = %+v, want success 201", byID["sub-1"].Outcome)
	}
	if byID["sub-2"].Outcome.StatusCode != 410 {
		t.Errorf("sub-2 status = %d, want 410", byID["sub-2"].Outcome.StatusCode)
	}
	if byID["sub-3"].Outcome.ErrorMessage == "" {
		t.Error("sub-3 outcome has no error message")
	}

	page, err := s.ListOutcomes(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListOutcomes() error = %v", err)
	}
	if len(page) != 2 {
		t.Errorf("ListOutcomes(limit=2) count = %d, want 2", len(page))
	}
}

func TestMemory_Update(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	record := &Record{
		ID:     "test-id",
		UserID: "user-1",
		Subscription: &webpush.Subscription{
			Endpoint: "https://push.example.com/abc123",
			Keys:     webpush.Keys{P256dh: "key1", Auth: "auth1"},
		},
	}
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	record.UserID = "user-2"
	record.Subscription.Endpoint = "https://push.example.com/new"
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "user-2" {
		t.Errorf("Get() UserID = %q, want %q", got.UserID, "user-2")
	}
	if got.Subscription.Endpoint != "https://push.example.com/new" {
		t.Errorf("Get() Endpoint = %q, want %q", got.Subscription.Endpoint, "https://push.example.com/new")
	}
}
