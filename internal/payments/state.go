package payments

import "github.com/farellandr/orderpay/internal/models"

// transitions is the complete payment state graph. Every status reachable
// by a transition has exactly one predecessor, which is what lets
// TransitionTo express the check as a single conditional UPDATE.
var transitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusProcessing: {
		models.PaymentStatusSucceeded,
		models.PaymentStatusFailed,
		models.PaymentStatusCancelled,
	},
	models.PaymentStatusSucceeded: {
		models.PaymentStatusRefunded,
	},
}

func CanTransition(from, to models.PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status models.PaymentStatus) bool {
	switch status {
	case models.PaymentStatusFailed, models.PaymentStatusCancelled, models.PaymentStatusRefunded:
		return true
	}
	return false
}

func predecessor(to models.PaymentStatus) (models.PaymentStatus, bool) {
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				return from, true
			}
		}
	}
	return "", false
}

func ValidStatus(status models.PaymentStatus) bool {
	switch status {
	case models.PaymentStatusProcessing, models.PaymentStatusSucceeded, models.PaymentStatusFailed,
		models.PaymentStatusCancelled, models.PaymentStatusRefunded:
		return true
	}
	return false
}
