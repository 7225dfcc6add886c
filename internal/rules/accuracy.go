package rules

// Epsilon keeps precision and recall finite when a rule set is empty.
const Epsilon = 1e-5

// Accuracy compares a sampled rule set against the true one.
type Accuracy struct {
	// Loss is the size of the symmetric difference.
	Loss      int     `json:"loss"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// LossRate normalizes Loss by the number of transactions mined.
func (a Accuracy) LossRate(transactions int) float64 {
	if transactions <= 0 {
		return 0
	}
	return float64(a.Loss) / float64(transactions)
}

// Evaluate scores sample against truth:
//
//	loss      = |truth ∆ sample|
//	precision = |truth ∩ sample| / (|sample| + Epsilon)
//	recall    = |truth ∩ sample| / (|truth| + Epsilon)
func Evaluate(truth, sample Set) Accuracy {
	common := 0
	for k := range sample {
		if _, ok := truth[k]; ok {
			common++
		}
	}
	return Accuracy{
		Loss:      len(truth) + len(sample) - 2*common,
		Precision: float64(common) / (float64(len(sample)) + Epsilon),
		Recall:    float64(common) / (float64(len(truth)) + Epsilon),
	}
}
