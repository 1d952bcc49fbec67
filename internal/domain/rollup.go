package domain

import "math"

// WeightedProgress aggregates immediate children into one parent progress value.
// Rounding is half-up; a zero total weight yields 0.
func WeightedProgress(children []WorkItem) int {
	var total, sum float64
	for _, child := range children {
		weight := child.Weight
		if weight <= 0 {
			continue
		}
		total += weight
		sum += float64(child.Progress) * weight
	}
	if total == 0 {
		return 0
	}
	return clampProgress(int(math.Floor(sum/total + 0.5)))
}
