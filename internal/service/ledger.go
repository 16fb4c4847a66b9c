package service

import (
	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

// Credit ledger: pure functions over subscription counters. The repository
// mirrors these rules in single conditional UPDATEs so that concurrent
// callers cannot double-consume; these functions are the reference semantics
// and serve validation, previews and tests.

// ApplySessionCompletion consumes one session credit, clamped at zero, and
// reports whether the subscription became complete. A cancelled subscription
// keeps its status; every other subscription flips to COMPLETED when the last
// credit is spent.
func ApplySessionCompletion(sub models.Subscription) (models.Subscription, bool) {
	if sub.SessionsRemaining <= 0 {
		sub.SessionsRemaining = 0
		return sub, false
	}
	sub.SessionsRemaining--
	if sub.SessionsRemaining == 0 && sub.Status != models.SubscriptionStatusCancelled {
		sub.Status = models.SubscriptionStatusCompleted
		return sub, true
	}
	return sub, false
}

// ApplyPostponeApproval consumes one postpone credit. Unlike session credits
// there is no clamped no-op: approving a postpone without credit is an error
// the caller must surface before any state changes.
func ApplyPostponeApproval(sub models.Subscription) (models.Subscription, error) {
	if sub.PostponeRemaining <= 0 {
		return sub, appErrors.ErrInsufficientCredit
	}
	sub.PostponeRemaining--
	return sub, nil
}

// SessionsCompleted derives the number of consumed session credits.
func SessionsCompleted(sub models.Subscription) int {
	done := sub.SessionsTotal - sub.SessionsRemaining
	if done < 0 {
		return 0
	}
	return done
}

// Progress reports the completed fraction of the cycle in [0, 1].
func Progress(sub models.Subscription) float64 {
	if sub.SessionsTotal <= 0 {
		return 0
	}
	return float64(SessionsCompleted(sub)) / float64(sub.SessionsTotal)
}

// ValidateCredits checks the counter invariants that must hold for every
// subscription at all times.
func ValidateCredits(sub models.Subscription) error {
	if sub.SessionsRemaining < 0 || sub.SessionsRemaining > sub.SessionsTotal {
		return appErrors.Clone(appErrors.ErrInternal, "session credits out of range")
	}
	if sub.PostponeRemaining < 0 || sub.PostponeRemaining > sub.PostponeTotal {
		return appErrors.Clone(appErrors.ErrInternal, "postpone credits out of range")
	}
	return nil
}
