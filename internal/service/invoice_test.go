package service

import (
	"strings"
	"testing"
	"time"
)

func TestInvoiceNumber_Format(t *testing.T) {
	now := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)

	number := invoiceNumber(now)

	if !strings.HasPrefix(number, "KR-20250314-") {
		t.Errorf("expected KR-20250314- prefix, got %q", number)
	}
	if len(number) != len("KR-20250314-")+6 {
		t.Errorf("expected 6-char suffix, got %q", number)
	}
}

func TestInvoiceNumber_UsesUTCDate(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2025, 3, 14, 23, 30, 0, 0, loc)

	number := invoiceNumber(now)

	if !strings.HasPrefix(number, "KR-20250315-") {
		t.Errorf("expected UTC date 20250315, got %q", number)
	}
}

func TestCurrentMonthBoundaries(t *testing.T) {
	testCases := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid-month",
			now:       time.Date(2025, 3, 14, 12, 30, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "first instant of month",
			now:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "december rolls into next year",
			now:       time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input is normalized",
			now:       time.Date(2025, 4, 1, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)),
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := currentMonthBoundaries(tc.now)
			if !start.Equal(tc.wantStart) {
				t.Errorf("start = %v, want %v", start, tc.wantStart)
			}
			if !end.Equal(tc.wantEnd) {
				t.Errorf("end = %v, want %v", end, tc.wantEnd)
			}
		})
	}
}
