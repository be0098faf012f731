package reputation

import "testing"

func TestReviewDelta(t *testing.T) {
	want := map[int]int{1: -10, 2: -5, 3: 0, 4: 5, 5: 10}
	for rating, delta := range want {
		if got := ReviewDelta(rating); got != delta {
			t.Errorf("ReviewDelta(%d) = %d, want %d", rating, got, delta)
		}
	}
}

func TestOnReviewClampsAtZero(t *testing.T) {
	tests := []struct {
		name      string
		rep       int
		rating    int
		wantRep   int
		wantDelta int
	}{
		{"zero stays zero on one star", 0, 1, 0, -10},
		{"seven drops to zero on one star", 7, 1, 0, -10},
		{"seven rises to seventeen on five stars", 7, 5, 17, 10},
		{"neutral review", 42, 3, 42, 0},
		{"two stars from twenty", 20, 2, 15, -5},
		{"no ceiling", 1000, 5, 1010, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, delta := OnReview(tt.rep, tt.rating)
			if rep != tt.wantRep {
				t.Errorf("reputation = %d, want %d", rep, tt.wantRep)
			}
			if delta != tt.wantDelta {
				t.Errorf("delta = %d, want %d", delta, tt.wantDelta)
			}
		})
	}
}

func TestOnSwarmCompletion(t *testing.T) {
	if got := OnSwarmCompletion(0); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	if got := OnSwarmCompletion(95); got != 105 {
		t.Errorf("expected 105, got %d", got)
	}
}

func TestValidRating(t *testing.T) {
	for r := -1; r <= 7; r++ {
		want := r >= 1 && r <= 5
		if got := ValidRating(r); got != want {
			t.Errorf("ValidRating(%d) = %v, want %v", r, got, want)
		}
	}
}

func TestTrustScore(t *testing.T) {
	tests := []struct {
		rep, completed, failed int
		want                   float64
	}{
		{5, 0, 0, 5.0},
		{0, 0, 0, 0},
		{30, 3, 0, 10},
		{10, 2, 1, 3.33},
		{20, 2, 1, 6.67},
	}
	for _, tt := range tests {
		if got := TrustScore(tt.rep, tt.completed, tt.failed); got != tt.want {
			t.Errorf("TrustScore(%d, %d, %d) = %v, want %v", tt.rep, tt.completed, tt.failed, got, tt.want)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		completed, failed int
		want              float64
	}{
		{0, 0, 0},
		{3, 0, 100},
		{2, 1, 66.7},
		{1, 2, 33.3},
		{1, 7, 12.5},
	}
	for _, tt := range tests {
		if got := SuccessRate(tt.completed, tt.failed); got != tt.want {
			t.Errorf("SuccessRate(%d, %d) = %v, want %v", tt.completed, tt.failed, got, tt.want)
		}
	}
}
