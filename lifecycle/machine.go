// Package lifecycle holds the order state machine. It is pure: it never
// touches storage and never broadcasts.
package lifecycle

import (
	"strings"
	"time"

	"go-restaurant-orderhub/models"
)

type step struct {
	from    models.Status
	to      models.Status
	archive bool
}

var steps = map[models.Transition]step{
	models.TransitionStartPreparing: {from: models.StatusPending, to: models.StatusPreparing},
	models.TransitionMarkReady:      {from: models.StatusPreparing, to: models.StatusReady},
	models.TransitionComplete:       {from: models.StatusReady, to: models.StatusCompleted, archive: true},
	models.TransitionArchive:        {from: models.StatusReady, to: models.StatusCompleted, archive: true},
}

// aliases maps the dashboard's target-status vocabulary onto transitions.
var aliases = map[string]models.Transition{
	string(models.StatusPreparing): models.TransitionStartPreparing,
	string(models.StatusReady):     models.TransitionMarkReady,
	string(models.StatusCompleted): models.TransitionComplete,
	"archived":                     models.TransitionArchive,
}

// ParseTransition accepts either a transition name or the status it leads to.
func ParseTransition(name string) (models.Transition, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	t := models.Transition(key)
	if _, ok := steps[t]; ok {
		return t, nil
	}
	if t, ok := aliases[key]; ok {
		return t, nil
	}
	return "", models.NewValidationError("unknown transition " + name)
}

// Apply returns the order after the transition and whether it must move
// to the archive. The input order is not modified.
func Apply(order models.Order, t models.Transition, now time.Time) (models.Order, bool, error) {
	s, ok := steps[t]
	if !ok {
		return order, false, models.NewValidationError("unknown transition " + string(t))
	}
	if order.Status != s.from {
		return order, false, &models.IllegalTransitionError{OrderID: order.ID, From: order.Status, Transition: t}
	}
	next := order.Clone()
	next.Status = s.to
	next.UpdatedAt = now
	return next, s.archive, nil
}
