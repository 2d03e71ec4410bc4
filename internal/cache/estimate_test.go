package cache

import "testing"

// mulI64 mirrors the estimator's float math so expected values match it
// bit for bit. Constant expressions like 3*mib*1.8 have non-integer values
// and cannot be converted to int64 directly.
func mulI64(n int64, f float64) int64 {
	return int64(float64(n) * f)
}

func TestEstimateTotalSize(t *testing.T) {
	tests := []struct {
		name       string
		downloaded int64
		want       int64
	}{
		{"tiny file assumes 4MB", 500 << 10, 4 * mib},
		{"just under 2MB assumes 4MB", 2*mib - 1, 4 * mib},
		{"2.5MB scales by 1.9", int64(2.5 * mib), mulI64(int64(2.5*mib), 1.9)},
		{"3MB scales by 1.8", 3 * mib, mulI64(3*mib, 1.8)},
		{"7MB scales by 1.5", 7 * mib, mulI64(7*mib, 1.5)},
		{"10MB scales by 1.2", 10 * mib, 12 * mib},
		{"11MB capped at 12MB", 11 * mib, 12 * mib},
		{"15MB floored at downloaded size", 15 * mib, 15 * mib},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimateTotalSize(tt.downloaded); got != tt.want {
				t.Errorf("estimateTotalSize(%d) = %d, want %d", tt.downloaded, got, tt.want)
			}
		})
	}
}

func TestEstimatePercentage_UnknownTotal(t *testing.T) {
	// 3MB downloaded with no Content-Length lands in the 1.8x bucket:
	// 3 / 5.4 = ~55%.
	pct, total := estimatePercentage(3*mib, 0, 0)
	if pct < 54 || pct > 57 {
		t.Errorf("pct = %.1f, want ~55", pct)
	}
	if want := mulI64(3*mib, 1.8); total != want {
		t.Errorf("total = %d, want %d", total, want)
	}
}

func TestEstimatePercentage_KnownTotal(t *testing.T) {
	pct, total := estimatePercentage(5*mib, 10*mib, 0)
	if pct != 50 {
		t.Errorf("pct = %.1f, want 50", pct)
	}
	if total != 10*mib {
		t.Errorf("total = %d, want known total", total)
	}
}

func TestEstimatePercentage_ClampsAt99(t *testing.T) {
	pct, _ := estimatePercentage(10*mib-1, 10*mib, 0)
	if pct > 99 {
		t.Errorf("pct = %.2f, want clamped to 99", pct)
	}
}

func TestEstimatePercentage_BoostRevisesTotal(t *testing.T) {
	// 11MB downloaded: the raw estimate (11/12 = ~92%) exceeds 85 with no
	// authoritative total, so the guess was too low. The total is revised
	// upward and the percentage pinned at 85.
	downloaded := int64(11 * mib)
	pct, total := estimatePercentage(downloaded, 0, 0)
	if pct != 85 {
		t.Errorf("pct = %.1f, want 85", pct)
	}
	want := int64(float64(downloaded) / 0.85)
	if total != want {
		t.Errorf("total = %d, want revised %d", total, want)
	}
	if total < 11*mib {
		t.Error("revised total below downloaded size")
	}
}

func TestEstimatePercentage_RegressionGuard(t *testing.T) {
	// A previous reading of 60 must not drop by more than 2 points even if
	// the raw estimate says otherwise.
	pct, _ := estimatePercentage(1*mib, 0, 60)
	if pct != 58 {
		t.Errorf("pct = %.1f, want guarded 58", pct)
	}
}

func TestEstimatePercentage_NothingDownloaded(t *testing.T) {
	pct, _ := estimatePercentage(0, 0, 37)
	if pct != 37 {
		t.Errorf("pct = %.1f, want previous value preserved", pct)
	}
}

func TestEstimatePercentage_Monotonicish(t *testing.T) {
	// Walking a download up through the bucket boundaries must never
	// regress more than 2 points between consecutive readings.
	prev := 0.0
	for downloaded := int64(256 << 10); downloaded <= 14*mib; downloaded += 256 << 10 {
		pct, _ := estimatePercentage(downloaded, 0, prev)
		if pct < prev-2 {
			t.Fatalf("at %d bytes: pct %.2f regressed more than 2 below %.2f", downloaded, pct, prev)
		}
		prev = pct
	}
}
