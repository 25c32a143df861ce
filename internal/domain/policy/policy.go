// Package policy implements the confidence policy engine: a pure mapping
// from a worker's self-reported confidence score to a disposition. All
// threshold logic lives here so call sites never branch on raw scores.
package policy

// Disposition is the three-way outcome of evaluating a result.
type Disposition string

const (
	DispositionAutoApprove Disposition = "auto_approve"
	DispositionQueue       Disposition = "queue"
	DispositionReject      Disposition = "reject"
)

// Confidence thresholds. AutoApproveAbove is a strict lower bound:
// a score of exactly 0.90 queues for review. QueueFrom is inclusive:
// exactly 0.70 queues rather than rejects.
const (
	AutoApproveAbove = 0.90
	QueueFrom        = 0.70
)

// ValidConfidence reports whether c is inside the legal [0,1] range.
// Scores outside this range are a fatal validation error, never a
// policy disposition.
func ValidConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

// Evaluate maps a confidence score and sensitive-category flag to a
// disposition. Deterministic and side-effect-free.
//
// Sensitive results always queue for mandatory human review, regardless
// of confidence.
func Evaluate(confidence float64, sensitive bool) Disposition {
	if sensitive {
		return DispositionQueue
	}
	switch {
	case confidence > AutoApproveAbove:
		return DispositionAutoApprove
	case confidence >= QueueFrom:
		return DispositionQueue
	default:
		return DispositionReject
	}
}

// Categories whose content always requires human review.
const (
	CategoryPolitics  = "politics"
	CategoryHealth    = "health"
	CategoryFinancial = "financial"
	CategoryLegal     = "legal"
)

// IsSensitiveCategory reports whether the named category mandates review.
func IsSensitiveCategory(category string) bool {
	switch category {
	case CategoryPolitics, CategoryHealth, CategoryFinancial, CategoryLegal:
		return true
	}
	return false
}

// AnySensitive reports whether any of the declared categories mandates review.
func AnySensitive(categories []string) bool {
	for _, c := range categories {
		if IsSensitiveCategory(c) {
			return true
		}
	}
	return false
}
