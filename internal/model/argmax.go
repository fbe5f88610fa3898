package model

// NoClass is the prediction when no logit exceeds the argmax threshold.
const NoClass = -1

// DefaultArgmaxThreshold is the minimum logit a class must exceed to be
// predicted.
const DefaultArgmaxThreshold float32 = 1e-5

// Argmax returns the first index holding the largest value strictly greater
// than threshold, or NoClass.
func Argmax(logits []float32, threshold float32) int {
	best := NoClass
	bestVal := threshold
	for i, v := range logits {
		if v > bestVal {
			best = i
			bestVal = v
		}
	}
	return best
}
