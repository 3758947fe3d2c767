package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/zulandar/siteyard/internal/alert"
	"github.com/zulandar/siteyard/internal/models"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/site"
)

// Transition is one terminal status change written by a sweep.
type Transition struct {
	SiteID string `json:"site_id"`
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// PollSummary reports what a sweep did.
type PollSummary struct {
	Checked     int          `json:"checked"`
	Updated     int          `json:"updated"`
	Skipped     int          `json:"skipped"`
	Unknown     int          `json:"unknown"`
	Transitions []Transition `json:"transitions"`
}

// MapTaskStatus maps a remote task code to a local status. Codes outside
// the documented set map to progress with known=false.
func MapTaskStatus(code int) (status string, known bool) {
	switch code {
	case provisioning.TaskCodeCompleted:
		return models.SiteStatusCompleted, true
	case provisioning.TaskCodeRunning:
		return models.SiteStatusProgress, true
	case provisioning.TaskCodeFailed:
		return models.SiteStatusFailed, true
	default:
		return models.SiteStatusProgress, false
	}
}

// PollPending checks every in-progress site with a task id and writes
// terminal transitions. Rows whose status fetch fails are skipped and
// retried on the next sweep. Writes are compare-and-set on status=progress,
// so overlapping sweeps converge.
func (e *Engine) PollPending(ctx context.Context) (PollSummary, error) {
	summary := PollSummary{Transitions: []Transition{}}
	if err := e.requireClient(); err != nil {
		return summary, err
	}

	pending, err := site.ListPending(e.db)
	if err != nil {
		return summary, err
	}

	var errs []error
	for _, s := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary.Checked++
		e.metrics.PollChecked.Inc()
		log := e.log.With("site", s.SiteID, "task_id", s.TaskID)

		ts, err := e.client.GetTaskStatus(ctx, s.TaskID)
		e.observe("get_task_status", err)
		if err != nil {
			summary.Skipped++
			log.Warnw("task status unavailable, will retry", "error", err)
			continue
		}

		to, known := MapTaskStatus(ts.Code)
		if !known {
			summary.Unknown++
			e.metrics.PollUnknownStatus.Inc()
			log.Warnw("unknown task status code", "code", ts.Code)
			e.notify(ctx, alert.Alert{
				Title:    "Unknown task status code",
				Body:     fmt.Sprintf("Task %s for site %s returned code %d; the site stays in progress.", s.TaskID, s.SiteID, ts.Code),
				Severity: alert.SeverityWarning,
				Fields:   map[string]string{"site": s.SiteID, "task": s.TaskID, "code": strconv.Itoa(ts.Code)},
			})
			continue
		}
		if to == models.SiteStatusProgress {
			continue
		}

		fields := map[string]interface{}{
			"task_id":      "",
			"api_response": rawJSON(ts.Payload),
		}
		if to == models.SiteStatusCompleted {
			for k, v := range detailFields(ts.Details) {
				fields[k] = v
			}
		}
		ok, err := site.Transition(e.db, s.SiteID, models.SiteStatusProgress, to, fields)
		if err != nil {
			errs = append(errs, err)
			log.Errorw("write transition", "to", to, "error", err)
			continue
		}
		if !ok {
			// Another sweep got there first.
			continue
		}

		summary.Updated++
		summary.Transitions = append(summary.Transitions, Transition{
			SiteID: s.SiteID,
			TaskID: s.TaskID,
			From:   models.SiteStatusProgress,
			To:     to,
		})
		e.metrics.PollTransitions.WithLabelValues(to).Inc()
		log.Infow("site transitioned", "to", to)

		if to == models.SiteStatusFailed {
			e.notify(ctx, alert.Alert{
				Title:    "Site provisioning failed",
				Body:     fmt.Sprintf("Task %s for site %s reported failure.", s.TaskID, s.SiteID),
				Severity: alert.SeverityError,
				Fields:   map[string]string{"site": s.SiteID, "task": s.TaskID},
			})
		}
	}

	e.metrics.PendingSites.Set(float64(len(pending) - summary.Updated))
	return summary, errors.Join(errs...)
}
