package backendtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/orders"
)

func TestBackend_CountsLockedHandlers(t *testing.T) {
	t.Parallel()

	b := New(t)
	b.AddOrder(orders.Order{ID: "o1", Status: orders.StatusPending})
	api := b.Client()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := api.OrdersByStatus(ctx, orders.StatusPending); err != nil {
				t.Errorf("orders by status: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := api.UpdateOrderStatus(ctx, "o1", orders.StatusPreparing); err != nil {
		t.Fatalf("update status: %v", err)
	}

	if n := b.Count("GET /orders"); n != 5 {
		t.Fatalf("GET /orders count = %d, want 5", n)
	}
	if n := b.Count("PATCH /orders/{id}/status"); n != 1 {
		t.Fatalf("PATCH count = %d, want 1", n)
	}
}
