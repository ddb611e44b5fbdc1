package tests

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"rental/internal/domain"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 7. OVERLAP SAFETY UNDER CONCURRENCY
// ──────────────────────────────────────────────

// Whatever order concurrent confirmations land in, no two blocking
// reservations on one asset may overlap.
func TestOverlapSafety_ConcurrentConfirmations(t *testing.T) {
	t.Parallel()

	for seed := int64(1); seed <= 5; seed++ {
		seed := seed
		t.Run("", func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			rng := rand.New(rand.NewSource(seed))

			var pending []*domain.Reservation
			for i := 0; i < 40; i++ {
				assetID := "car-1"
				if rng.Intn(4) == 0 {
					assetID = "car-2"
				}
				from := rng.Intn(200)
				to := from + 1 + rng.Intn(36)
				pending = append(pending, h.createReservation(t, assetID, from, to))
			}

			var wg sync.WaitGroup
			errs := make([]error, len(pending))
			start := make(chan struct{})
			for i, r := range pending {
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					<-start
					_, errs[i] = h.reservationSvc.Confirm(context.Background(), id)
				}(i, r.ID)
			}
			close(start)
			wg.Wait()

			confirmed := 0
			for i, err := range errs {
				switch {
				case err == nil:
					confirmed++
				case errors.Is(err, service.ErrAssetUnavailable):
				default:
					t.Errorf("reservation %s: unexpected error %v", pending[i].ID, err)
				}
			}
			if confirmed == 0 {
				t.Fatal("expected at least one confirmation")
			}

			assertNoBlockingOverlap(t, h, "car-1")
			assertNoBlockingOverlap(t, h, "car-2")
		})
	}
}

// Racing creates and cancellations must keep the same guarantee.
func TestOverlapSafety_MixedOperations(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rng := rand.New(rand.NewSource(99))

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		from := rng.Intn(96)
		to := from + 1 + rng.Intn(24)
		cancelAfter := rng.Intn(3) == 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			r, err := h.reservationSvc.Create(ctx, service.CreateReservationRequest{
				CustomerID: "customer-1",
				AssetID:    "car-1",
				Start:      at(from),
				End:        at(to),
				RatePlan:   domain.RatePlanHour,
			})
			if err != nil {
				return
			}
			if _, err := h.reservationSvc.Confirm(ctx, r.ID); err != nil {
				return
			}
			if cancelAfter {
				_, _ = h.reservationSvc.Cancel(ctx, r.ID, service.Actor{ID: "customer-1"})
			}
		}()
	}
	wg.Wait()

	assertNoBlockingOverlap(t, h, "car-1")
}

func assertNoBlockingOverlap(t *testing.T, h *harness, assetID string) {
	t.Helper()

	everything := domain.Interval{Start: at(-1000), End: at(10000)}
	blocking, err := h.reservations.ListOverlapping(context.Background(), assetID, everything, domain.BlockingStatuses)
	if err != nil {
		t.Fatalf("list blocking: %v", err)
	}
	for i := 0; i < len(blocking); i++ {
		for j := i + 1; j < len(blocking); j++ {
			if blocking[i].Interval.Overlaps(blocking[j].Interval) {
				t.Errorf("asset %s: %s [%v,%v) overlaps %s [%v,%v)", assetID,
					blocking[i].ID, blocking[i].Interval.Start, blocking[i].Interval.End,
					blocking[j].ID, blocking[j].Interval.Start, blocking[j].Interval.End)
			}
		}
	}
}
