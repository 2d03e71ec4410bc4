package cache

const mib = 1 << 20

// estimateTotalSize guesses the full size of a stream from the bytes
// downloaded so far. Typical compressed audio tracks land between 3MB and
// 12MB, so the multiplier shrinks as the file grows: early on the guess is
// deliberately pessimistic to keep the reported percentage conservative, and
// it converges toward the real size as bytes accumulate.
func estimateTotalSize(downloaded int64) int64 {
	var est int64
	switch {
	case downloaded < 2*mib:
		est = 4 * mib
	case downloaded < 3*mib:
		est = int64(float64(downloaded) * 1.9)
	case downloaded < 5*mib:
		est = int64(float64(downloaded) * 1.8)
	case downloaded < 10*mib:
		est = int64(float64(downloaded) * 1.5)
	default:
		est = int64(float64(downloaded) * 1.2)
		if est > 12*mib {
			est = 12 * mib
		}
	}
	if est < downloaded {
		est = downloaded
	}
	return est
}

// estimatePercentage computes the completion percentage for a partial
// download and the total size the figure is based on.
//
// knownTotal, when positive, is an authoritative size (Content-Length) and is
// used as-is. Otherwise the total is estimated from the downloaded bytes.
//
// Three corrections keep the number honest for the UI:
//   - raw estimates above 85% with no authoritative total mean the size
//     guess is too low; the total is revised upward so the bar keeps moving
//     instead of sitting near-complete while bytes still arrive
//   - the result is clamped to 99 until completion is confirmed
//   - the result never drops more than 2 points below the previous reading,
//     so bucket boundaries do not make the bar jump backwards
func estimatePercentage(downloaded, knownTotal int64, prev float64) (float64, int64) {
	if downloaded <= 0 {
		return prev, knownTotal
	}

	total := knownTotal
	if total <= 0 {
		total = estimateTotalSize(downloaded)
	}
	if total < downloaded {
		total = downloaded
	}

	pct := float64(downloaded) / float64(total) * 100

	if knownTotal <= 0 && pct > 85 {
		total = int64(float64(downloaded) / 0.85)
		pct = 85
	}

	if pct > 99 {
		pct = 99
	}
	if pct < prev-2 {
		pct = prev - 2
	}

	return pct, total
}
