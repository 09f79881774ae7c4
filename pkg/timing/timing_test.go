package timing

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestTimeout(t *testing.T) {
	tests := []struct {
		name    string
		in      Timeout
		enabled bool
		expired bool
		str     string
	}{
		{"zero value", Timeout{}, false, false, "off"},
		{"explicit zero", After(0), true, true, "0s"},
		{"negative clamps", After(-time.Second), true, true, "0s"},
		{"positive", After(50 * time.Millisecond), true, false, "50ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Enabled(); got != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.enabled)
			}
			if got := tt.in.Expired(); got != tt.expired {
				t.Errorf("Expired() = %v, want %v", got, tt.expired)
			}
			if got := tt.in.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}
}

func TestTimeoutContext(t *testing.T) {
	ctx, cancel := After(0).Context(context.Background())
	defer cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("zero timeout context did not expire")
	}

	ctx, cancel = Off().Context(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("disabled timeout context has a deadline")
	}
}

func TestTimeoutsJSON(t *testing.T) {
	in := Timeouts{Connect: After(2 * time.Second), Idle: After(0)}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Timeouts
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if _, err := ParseTimeout("soon"); err == nil {
		t.Error("ParseTimeout(soon) succeeded")
	}
}

func TestMerge(t *testing.T) {
	got := Timeouts{Connect: After(0)}.Merge(DefaultTimeouts())
	if !got.Connect.Expired() {
		t.Errorf("Connect = %v, want 0s", got.Connect)
	}
	if d, _ := got.Idle.Duration(); d != 30*time.Second {
		t.Errorf("Idle = %v, want 30s", d)
	}
	if got.Total.Enabled() {
		t.Errorf("Total = %v, want off", got.Total)
	}
}

func TestSleepPrecision(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if got := time.Since(start); got < 5*time.Millisecond {
		t.Errorf("slept %v, want at least 5ms", got)
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err != context.Canceled {
		t.Errorf("Sleep = %v, want context.Canceled", err)
	}
}

func TestReport(t *testing.T) {
	var r Report
	r.Add(10*time.Millisecond, 12*time.Millisecond)
	r.Add(10*time.Millisecond, 7*time.Millisecond)
	if got := r.MaxJitter(); got != 3*time.Millisecond {
		t.Errorf("MaxJitter() = %v, want 3ms", got)
	}
	if got := r.Total(); got != 19*time.Millisecond {
		t.Errorf("Total() = %v, want 19ms", got)
	}
}
