package config

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "plain", raw: "10s", want: 10 * time.Second},
		{name: "padded", raw: "  2m ", want: 2 * time.Minute},
		{name: "empty means unset", raw: "", want: 0},
		{name: "garbage", raw: "soon", wantErr: true},
		{name: "negative", raw: "-5s", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Duration("timers.default_timeout", tc.raw)
			if tc.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDurationDefault(t *testing.T) {
	t.Parallel()
	def := 30 * time.Second

	if d, err := DurationDefault("f", "", def); err != nil || d != def {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if d, err := DurationDefault("f", "5s", def); err != nil || d != 5*time.Second {
		t.Fatalf("set: got %v, %v", d, err)
	}
	if _, err := DurationDefault("f", "nope", def); err == nil {
		t.Fatal("bad value: expected error")
	}
}
