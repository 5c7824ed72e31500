package quota

import (
	"testing"
	"time"
)

func TestStartOfDayBoundary(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "just before rollover belongs to yesterday's window",
			now:  time.Date(2026, 3, 5, 6, 59, 59, 0, time.UTC),
			want: time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at rollover belongs to today's window",
			now:  time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "just after rollover belongs to today's window",
			now:  time.Date(2026, 3, 5, 7, 0, 1, 0, time.UTC),
			want: time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StartOfDay(tc.now); !got.Equal(tc.want) {
				t.Errorf("StartOfDay(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}
