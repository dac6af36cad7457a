package tool

import "testing"

func TestFriendlyDate(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"2026-02-09": "Monday, February 9th",
		"2026-02-01": "Sunday, February 1st",
		"2026-02-02": "Monday, February 2nd",
		"2026-02-03": "Tuesday, February 3rd",
		"2026-02-11": "Wednesday, February 11th",
		"2026-02-13": "Friday, February 13th",
		"2026-02-22": "Sunday, February 22nd",
		"not-a-date": "not-a-date",
	}
	for in, want := range cases {
		if got := FriendlyDate(in); got != want {
			t.Errorf("FriendlyDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFriendlyTime(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"14:00": "2 PM",
		"09:30": "9:30 AM",
		"00:00": "12 AM",
		"12:15": "12:15 PM",
		"oops":  "oops",
	}
	for in, want := range cases {
		if got := FriendlyTime(in); got != want {
			t.Errorf("FriendlyTime(%q) = %q, want %q", in, got, want)
		}
	}
}
