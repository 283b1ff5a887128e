package billing

import "testing"

func TestBilledMinutes(t *testing.T) {
	if got := billedMinutes(0); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billedMinutes(3); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billedMinutes(60); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billedMinutes(61); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := billedMinutes(125); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestQuote_125SecondsAt50000With20Percent(t *testing.T) {
	b, err := Quote(125, 50000, 20)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if b.BilledMinutes != 3 {
		t.Fatalf("expected 3 billed minutes, got %d", b.BilledMinutes)
	}
	if b.GrossMinor != 150000 {
		t.Fatalf("expected gross 150000, got %d", b.GrossMinor)
	}
	if b.CommissionMinor != 30000 {
		t.Fatalf("expected commission 30000, got %d", b.CommissionMinor)
	}
	if b.NetMinor != 120000 {
		t.Fatalf("expected net 120000, got %d", b.NetMinor)
	}
}

func TestQuote_OneMinuteFloorForShortConnectedCalls(t *testing.T) {
	b, err := Quote(2, 50000, 20)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if b.BilledMinutes != 1 {
		t.Fatalf("expected 1-minute floor, got %d", b.BilledMinutes)
	}
	if b.GrossMinor != 50000 {
		t.Fatalf("expected gross 50000, got %d", b.GrossMinor)
	}
}

func TestQuote_CommissionFloorsNotRounds(t *testing.T) {
	// 1 minute at 99 with 33% commission: 99*33/100 = 32.67, floored to 32.
	b, err := Quote(10, 99, 33)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if b.CommissionMinor != 32 {
		t.Fatalf("expected commission 32, got %d", b.CommissionMinor)
	}
	if b.NetMinor != 67 {
		t.Fatalf("expected net 67, got %d", b.NetMinor)
	}
}

func TestQuote_CommissionPlusNetEqualsGross(t *testing.T) {
	seconds := []int{0, 1, 59, 60, 61, 120, 121, 125, 3599, 3600, 3601}
	rates := []int64{0, 1, 7, 99, 50000}
	percents := []int{0, 1, 20, 33, 99, 100}

	for _, s := range seconds {
		for _, r := range rates {
			for _, p := range percents {
				b, err := Quote(s, r, p)
				if err != nil {
					t.Fatalf("quote(%d,%d,%d): %v", s, r, p, err)
				}
				if b.CommissionMinor+b.NetMinor != b.GrossMinor {
					t.Fatalf("quote(%d,%d,%d): commission %d + net %d != gross %d",
						s, r, p, b.CommissionMinor, b.NetMinor, b.GrossMinor)
				}
			}
		}
	}
}

func TestQuote_RejectsInvalidInput(t *testing.T) {
	if _, err := Quote(-1, 100, 20); err != ErrInvalidBillInput {
		t.Fatalf("expected ErrInvalidBillInput, got %v", err)
	}
	if _, err := Quote(10, -1, 20); err != ErrInvalidBillInput {
		t.Fatalf("expected ErrInvalidBillInput, got %v", err)
	}
	if _, err := Quote(10, 100, 101); err != ErrInvalidBillInput {
		t.Fatalf("expected ErrInvalidBillInput, got %v", err)
	}
	if _, err := Quote(10, 100, -1); err != ErrInvalidBillInput {
		t.Fatalf("expected ErrInvalidBillInput, got %v", err)
	}
}

func TestZeroBill(t *testing.T) {
	b := ZeroBill(50000, 20)
	if b.BilledMinutes != 0 || b.GrossMinor != 0 || b.CommissionMinor != 0 || b.NetMinor != 0 {
		t.Fatalf("expected all-zero bill, got %+v", b)
	}
	if b.RatePerMinuteMinor != 50000 || b.CommissionPercent != 20 {
		t.Fatalf("expected terms carried through, got %+v", b)
	}
}
