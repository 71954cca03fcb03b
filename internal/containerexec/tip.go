package containerexec

import (
	"fmt"
	"math"
)

const bytesPerMiB = 1 << 20

// optimizationTip implements §4.G step 8: a human-readable sizing
// recommendation derived from the ratio of peak memory used to the
// task's configured allocation. peakBytes is nil when the stats probe
// failed, in which case a fixed unavailable message is returned.
func optimizationTip(peakBytes *int64, memoryMB int) string {
	if peakBytes == nil {
		return "memory info unavailable"
	}

	peakMB := float64(*peakBytes) / bytesPerMiB
	ratio := float64(*peakBytes) / (float64(memoryMB) * bytesPerMiB)

	switch {
	case ratio < 0.30:
		recommended := ceilOrOne(peakMB * 1.5)
		savings := int(math.Round((1 - float64(recommended)/float64(memoryMB)) * 100))
		return fmt.Sprintf("over-provisioned: using %.1f MiB of %d MiB (%.0f%%). Consider reducing to %d MiB (~%d%% savings).",
			peakMB, memoryMB, ratio*100, recommended, savings)
	case ratio < 0.70:
		recommended := ceilOrOne(peakMB * 1.3)
		return fmt.Sprintf("comfortable: using %.1f MiB of %d MiB (%.0f%%). Optional tightening to %d MiB.",
			peakMB, memoryMB, ratio*100, recommended)
	case ratio <= 1.00:
		return fmt.Sprintf("right-sized: using %.1f MiB of %d MiB (%.0f%%). No change recommended.",
			peakMB, memoryMB, ratio*100)
	default:
		recommended := int(math.Ceil(peakMB * 1.2))
		return fmt.Sprintf("warning: under-provisioned, using %.1f MiB of %d MiB (%.0f%%). Increase to at least %d MiB.",
			peakMB, memoryMB, ratio*100, recommended)
	}
}

// ceilOrOne rounds up to an integer MiB count, floored at 1 per §4.G's
// "ceil(peak_mb * multiplier) or 1" wording.
func ceilOrOne(mb float64) int {
	v := int(math.Ceil(mb))
	if v < 1 {
		return 1
	}
	return v
}
