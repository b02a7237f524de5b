package taskpoll

import "testing"

// maxStep and minStep pin the random source to the ends of each band.
func maxStep(n int) int { return n - 1 }
func minStep(int) int   { return 0 }

func TestProgressSimulator_Bands(t *testing.T) {
	tests := []struct {
		name    string
		mode    ProgressMode
		intN    func(int) int
		current float64
		want    float64
	}{
		{"fast low band max", ProgressFast, maxStep, 0, 15},
		{"fast low band min", ProgressFast, minStep, 0, 6},
		{"fast mid band max", ProgressFast, maxStep, 70, 78},
		{"fast high band min", ProgressFast, minStep, 90, 91},
		{"fast high band clamps to ceiling", ProgressFast, maxStep, 97, 99},
		{"medium low band max", ProgressMedium, maxStep, 10, 17},
		{"medium mid band min", ProgressMedium, minStep, 75, 76},
		{"medium high band may stall", ProgressMedium, minStep, 95, 95},
		{"medium high band max", ProgressMedium, maxStep, 95, 97},
		{"slow low band max", ProgressSlow, maxStep, 0, 3},
		{"slow low band may stall", ProgressSlow, minStep, 30, 30},
		{"slow mid band max", ProgressSlow, maxStep, 60, 62},
		{"slow high band max", ProgressSlow, maxStep, 94, 95},
		{"slow high band clamps to ceiling", ProgressSlow, maxStep, 94.5, 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newProgressSimulator(tt.mode, tt.intN)
			if got := sim(tt.current); got != tt.want {
				t.Errorf("sim(%v) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}

// TestProgressSimulator_AtCeiling verifies the +1 creep above the ceiling,
// capped at 99.
func TestProgressSimulator_AtCeiling(t *testing.T) {
	tests := []struct {
		mode    ProgressMode
		current float64
		want    float64
	}{
		{ProgressFast, 99, 99},
		{ProgressMedium, 99, 99},
		{ProgressSlow, 95, 96},
		{ProgressSlow, 98, 99},
		{ProgressSlow, 99, 99},
	}

	for _, tt := range tests {
		sim := newProgressSimulator(tt.mode, maxStep)
		if got := sim(tt.current); got != tt.want {
			t.Errorf("%s: sim(%v) = %v, want %v", tt.mode, tt.current, got, tt.want)
		}
	}
}

func TestProgressSimulator_UnknownModeUsesMedium(t *testing.T) {
	unknown := newProgressSimulator("turbo", maxStep)
	medium := newProgressSimulator(ProgressMedium, maxStep)

	for _, p := range []float64{0, 50, 80, 95, 99} {
		if unknown(p) != medium(p) {
			t.Errorf("sim(%v) = %v, want medium's %v", p, unknown(p), medium(p))
		}
	}
}

// TestNewProgressSimulator_Random drives the real random source and checks
// the invariants every preset must hold.
func TestNewProgressSimulator_Random(t *testing.T) {
	for _, mode := range []ProgressMode{ProgressFast, ProgressMedium, ProgressSlow} {
		t.Run(string(mode), func(t *testing.T) {
			sim := NewProgressSimulator(mode)
			for run := 0; run < 50; run++ {
				p := 0.0
				for i := 0; i < 200; i++ {
					next := sim(p)
					if next < p {
						t.Fatalf("progress decreased: %v -> %v", p, next)
					}
					if next > 99 {
						t.Fatalf("progress %v exceeds 99", next)
					}
					p = next
				}
			}
		})
	}
}

func TestParseProgressMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ProgressMode
		wantErr bool
	}{
		{"fast", ProgressFast, false},
		{" Medium ", ProgressMedium, false},
		{"SLOW", ProgressSlow, false},
		{"", "", true},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		got, err := ParseProgressMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProgressMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProgressMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampProgress(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{101, 100},
	}
	for _, tt := range tests {
		if got := clampProgress(tt.in); got != tt.want {
			t.Errorf("clampProgress(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
