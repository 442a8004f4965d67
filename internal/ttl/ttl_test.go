package ttl

import (
	"testing"
	"time"
)

func defaultEngine() *Engine {
	return NewEngine(Options{})
}

func TestCalculate_Deterministic(t *testing.T) {
	e := defaultEngine()
	ctx := Context{TimeOfDay: 14, DayOfWeek: time.Tuesday, SystemLoad: LoadNormal}

	first := e.Calculate("user-profile", ctx)
	for i := 0; i < 10; i++ {
		if got := e.Calculate("user-profile", ctx); got != first {
			t.Fatalf("calculation not deterministic: %v vs %v", got, first)
		}
	}
}

func TestCalculate_CriticalStrictlyShorter(t *testing.T) {
	e := defaultEngine()

	contexts := []Context{
		{TimeOfDay: 14, SystemLoad: LoadNormal},
		{TimeOfDay: 3, SystemLoad: LoadLow},
		{TimeOfDay: 9, SystemLoad: LoadHigh},
		{TimeOfDay: 22, SystemLoad: LoadNormal, UserProfile: &UserProfile{ActiveSession: true, RecentActivity: true}},
	}

	pairs := [][2]string{
		{"realtime-quotes", "realtime-quotes-critical"},
		{"user-profile", "user-profile-critical"},
		{"static-reference", "static-reference-critical"},
	}

	for _, ctx := range contexts {
		for _, pair := range pairs {
			normal := e.Calculate(pair[0], ctx)
			critical := e.Calculate(pair[1], ctx)
			if critical >= normal {
				t.Errorf("critical %q (%v) must be strictly shorter than %q (%v)",
					pair[1], critical, pair[0], normal)
			}
		}
	}
}

func TestCalculate_CriticalShorterUnderTightFloor(t *testing.T) {
	// With a floor above every base TTL, non-critical values all clamp to
	// the minimum; critical must still come out strictly below it.
	e := NewEngine(Options{Min: time.Hour, Max: 2 * time.Hour})
	ctx := Context{TimeOfDay: 12, SystemLoad: LoadNormal}

	for _, pair := range [][2]string{
		{"realtime-quotes", "realtime-quotes-critical"},
		{"static-reference", "static-reference-critical"},
	} {
		normal := e.Calculate(pair[0], ctx)
		critical := e.Calculate(pair[1], ctx)
		if critical >= normal {
			t.Errorf("critical %q (%v) must be strictly shorter than %q (%v)",
				pair[1], critical, pair[0], normal)
		}
	}
}

func TestCalculate_CriticalCeiling(t *testing.T) {
	e := defaultEngine()
	ctx := Context{TimeOfDay: 12}

	got := e.Calculate("static-reference-critical", ctx)
	if got > 5*time.Minute {
		t.Errorf("critical TTL %v exceeds the 5m ceiling", got)
	}
}

func TestCalculate_HighLoadShortens(t *testing.T) {
	e := defaultEngine()

	normal := e.Calculate("inventory", Context{TimeOfDay: 12, SystemLoad: LoadNormal})
	loaded := e.Calculate("inventory", Context{TimeOfDay: 12, SystemLoad: LoadHigh})
	if loaded >= normal {
		t.Errorf("high load TTL %v should be shorter than normal %v", loaded, normal)
	}
}

func TestCalculate_TrustedSessionLengthens(t *testing.T) {
	e := defaultEngine()
	base := Context{TimeOfDay: 12}
	trusted := Context{TimeOfDay: 12, UserProfile: &UserProfile{ActiveSession: true, RecentActivity: true}}

	a := e.Calculate("user-profile", base)
	b := e.Calculate("user-profile", trusted)
	if b <= a {
		t.Errorf("trusted session TTL %v should exceed baseline %v", b, a)
	}
}

func TestCalculate_Clamped(t *testing.T) {
	e := NewEngine(Options{Min: 30 * time.Second, Max: 2 * time.Minute})

	if got := e.Calculate("realtime-feed", Context{TimeOfDay: 12, SystemLoad: LoadHigh}); got < 30*time.Second {
		t.Errorf("TTL %v below configured floor", got)
	}
	if got := e.Calculate("static-reference", Context{TimeOfDay: 12}); got > 2*time.Minute {
		t.Errorf("TTL %v above configured ceiling", got)
	}
}

func TestClassify(t *testing.T) {
	e := defaultEngine()

	tests := []struct {
		dataType string
		want     VolatilityClass
	}{
		{"realtime-quotes", ClassRealtime},
		{"live-scores", ClassRealtime},
		{"static-countries", ClassStaticReference},
		{"currency-reference", ClassStaticReference},
		{"user-settings", ClassUserProfile},
		{"orders", ClassDynamic},
	}

	for _, tt := range tests {
		if got := e.Classify(tt.dataType); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.dataType, got, tt.want)
		}
	}
}

func TestRegisterProfile_Overrides(t *testing.T) {
	e := defaultEngine()
	e.RegisterProfile("orders", ClassRealtime)

	if got := e.Classify("orders"); got != ClassRealtime {
		t.Errorf("registered profile ignored, got %v", got)
	}
}

func TestParseClass(t *testing.T) {
	for _, name := range []string{"realtime", "dynamic", "user-profile", "static-reference"} {
		class, ok := ParseClass(name)
		if !ok {
			t.Errorf("ParseClass(%q) failed", name)
		}
		if class.String() != name {
			t.Errorf("round trip mismatch for %q: %v", name, class)
		}
	}
	if _, ok := ParseClass("volatile"); ok {
		t.Error("unknown class name should not parse")
	}
}
