package timeutil

import (
	"testing"
	"time"
)

func at(hh, mm int) time.Time {
	return time.Date(2025, 6, 10, hh, mm, 0, 0, time.UTC)
}

func TestValidateTime(t *testing.T) {
	valid := []string{"00:00", "09:30", "14:00", "23:59"}
	for _, v := range valid {
		if !ValidateTime(v) {
			t.Errorf("ValidateTime(%q) = false", v)
		}
	}
	invalid := []string{"24:00", "9:30", "12:60", "12:5", "ab:cd", "", "12:30:00"}
	for _, v := range invalid {
		if ValidateTime(v) {
			t.Errorf("ValidateTime(%q) = true", v)
		}
	}
}

func TestParseTimes(t *testing.T) {
	got := ParseTimes(" 09:00, 14:00 ,,21:00 ")
	want := []string{"09:00", "14:00", "21:00"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestInvalidTimes(t *testing.T) {
	bad := InvalidTimes([]string{"09:00", "25:00", "9:5"})
	if len(bad) != 2 || bad[0] != "25:00" || bad[1] != "9:5" {
		t.Fatalf("bad = %v", bad)
	}
}

func TestTimeToCron(t *testing.T) {
	cases := map[string]string{
		"09:00": "0 9 * * *",
		"14:30": "30 14 * * *",
		"00:05": "5 0 * * *",
		"23:59": "59 23 * * *",
	}
	for in, want := range cases {
		if got := TimeToCron(in); got != want {
			t.Errorf("TimeToCron(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDelayMinutes(t *testing.T) {
	cases := []struct {
		name      string
		confirmed time.Time
		scheduled string
		want      int
	}{
		{"exactly on time", at(9, 0), "09:00", 0},
		{"twenty late", at(9, 20), "09:00", 20},
		{"rolls back a day", at(0, 30), "23:00", 90},
		{"slot later today", at(8, 0), "09:00", 23 * 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DelayMinutes(tc.confirmed, tc.scheduled); got != tc.want {
				t.Fatalf("DelayMinutes(%v, %q) = %d, want %d", tc.confirmed, tc.scheduled, got, tc.want)
			}
		})
	}
}

func TestDelayMinutesNeverNegative(t *testing.T) {
	for hh := 0; hh < 24; hh++ {
		confirmed := at(hh, 17)
		for _, slot := range []string{"00:00", "08:30", "14:00", "23:45"} {
			if d := DelayMinutes(confirmed, slot); d < 0 {
				t.Fatalf("negative delay %d for confirmed=%v slot=%s", d, confirmed, slot)
			}
		}
	}
}

func TestNextSequentialTime(t *testing.T) {
	// Confirmed 09:00 slot at 09:20 -> 14:00 slot shifts to 14:20.
	got := NextSequentialTime("09:00", "14:00", at(9, 20), 60)
	if want := at(14, 20); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Lateness is capped by maxDelayMinutes.
	got = NextSequentialTime("09:00", "14:00", at(11, 0), 60)
	if want := at(15, 0); !got.Equal(want) {
		t.Fatalf("capped: got %v, want %v", got, want)
	}
}

func TestNextSequentialTimeCapProperty(t *testing.T) {
	next := "14:00"
	for late := 0; late <= 300; late += 7 {
		confirmed := at(9, 0).Add(time.Duration(late) * time.Minute)
		got := NextSequentialTime("09:00", next, confirmed, 60)
		shift := got.Sub(onDate(confirmed, next))
		if shift > 60*time.Minute {
			t.Fatalf("shift %v exceeds cap for lateness %dm", shift, late)
		}
		if shift < 0 {
			t.Fatalf("negative shift %v", shift)
		}
	}
}

func TestFireDelay(t *testing.T) {
	now := at(12, 0)
	if d := FireDelay(now.Add(30*time.Second), now); d != MinFireDelay {
		t.Fatalf("small delay not clamped: %v", d)
	}
	if d := FireDelay(now.Add(10*time.Minute), now); d != 10*time.Minute {
		t.Fatalf("large delay altered: %v", d)
	}
	if d := FireDelay(now.Add(-time.Minute), now); d >= 0 {
		t.Fatalf("past target should be non-positive, got %v", d)
	}
	if d := FireDelay(now, now); d != 0 {
		t.Fatalf("exact target should be zero, got %v", d)
	}
}
