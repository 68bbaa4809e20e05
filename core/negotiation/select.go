package negotiation

import "math"

// LowestBid returns the minimum bid. Ties go to the lexicographically
// smallest worker id. NaN values are ignored.
func LowestBid(bids map[string]float64) (winner string, value float64, ok bool) {
	for id, v := range bids {
		if math.IsNaN(v) {
			continue
		}
		if !ok || v < value || (v == value && id < winner) {
			winner, value, ok = id, v, true
		}
	}
	return winner, value, ok
}
