// Package offerprocessor implements the Offer Processor: it drives exactly
// one offer through match -> persist -> launch -> settle, owning the two
// deadlines (match and save) and the compensating rollback that keeps the
// Task Tracker's durable state consistent with what the driver actually
// accepted.
//
// It is grounded on master/task/queue.go's launch-attempt bookkeeping
// (create, persist, launch, and the rollback on a failed attempt) combined
// with the sequential per-offer pipeline SPEC_FULL.md §4.3 and §5 require:
// persistence of task i completes before task i+1 begins, and the decision
// to launch or decline is made only after every persistence attempt in the
// round has settled.
package offerprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ss75710541/marathon/internal/clock"
	"github.com/ss75710541/marathon/internal/models"
	"github.com/ss75710541/marathon/internal/tracker"
)

const (
	reasonSavingTimeoutReached = "saving timeout reached"
	reasonDriverUnavailable    = "driver unavailable"
)

// errEmptyOffer is returned when an offer arrives with no ID, which can
// only mean a bug upstream in whatever produces the offer feed.
var errEmptyOffer = errors.New("offerprocessor: empty offer id")

// validateOffer rejects offers that cannot possibly be answered: an empty
// ID means declineOffer/launchTasks would have nothing to reference.
func validateOffer(offer models.Offer) error {
	if offer.ID == "" {
		return errors.Wrap(errEmptyOffer, "offerprocessor: ProcessOffer")
	}
	return nil
}

// OfferMatcher is the offer matcher manager's surface as seen by the
// processor.
type OfferMatcher interface {
	MatchOffer(deadline time.Time, offer models.Offer) models.MatchedTasks
}

// TaskLauncher is the driver adapter's surface as seen by the processor.
type TaskLauncher interface {
	LaunchTasks(offerID string, specs []models.LaunchSpec) bool
	DeclineOffer(offerID string, refuseMillis *time.Duration)
}

// Config carries the two deadline budgets and the default decline duration.
type Config struct {
	OfferMatchingTimeout     time.Duration
	SaveTasksToLaunchTimeout time.Duration
	DeclineOfferDuration     time.Duration
}

// Processor handles one offer per ProcessOffer call and does no locking of
// its own across calls; the caller (typically a workerpool.Pool) is
// responsible for bounding how many offers' pipelines run concurrently.
type Processor struct {
	matcher  OfferMatcher
	tracker  tracker.Tracker
	launcher TaskLauncher
	clock    clock.Clock
	cfg      Config
	metrics  *Metrics
}

// New returns a Processor wiring the given collaborators.
func New(matcher OfferMatcher, trk tracker.Tracker, launcher TaskLauncher, clk clock.Clock, cfg Config, metrics *Metrics) *Processor {
	return &Processor{
		matcher:  matcher,
		tracker:  trk,
		launcher: launcher,
		clock:    clk,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// ProcessOffer answers offer with exactly one of launchTasks/declineOffer,
// per SPEC_FULL.md §6's response obligation. An offer with an empty ID is
// counted as invalid and answered with neither.
func (p *Processor) ProcessOffer(ctx context.Context, offer models.Offer) {
	if err := validateOffer(offer); err != nil {
		log.WithError(err).WithField("cause", errors.Cause(err)).Warn("offerprocessor: rejecting invalid offer")
		p.metrics.invalidOffers.Inc(1)
		return
	}

	matchingDeadline := p.clock.Now().Add(p.cfg.OfferMatchingTimeout)
	savingDeadline := matchingDeadline.Add(p.cfg.SaveTasksToLaunchTimeout)

	matched := p.matchOffer(matchingDeadline, offer)
	survivors := p.persist(ctx, matched.Tasks, savingDeadline)

	if len(survivors) == 0 {
		p.decline(offer, matched)
		return
	}

	specs := make([]models.LaunchSpec, len(survivors))
	for i, t := range survivors {
		specs[i] = t.LaunchSpec
	}

	if p.launcher.LaunchTasks(offer.ID, specs) {
		for _, t := range survivors {
			t.Source.Accept()
		}
		return
	}

	var rollbackErrs *multierror.Error
	for _, t := range survivors {
		t.Source.Reject(reasonDriverUnavailable)
		if err := p.tracker.Terminated(ctx, t.TaskRecord.AppID, t.TaskRecord.TaskID); err != nil {
			rollbackErrs = multierror.Append(rollbackErrs, errors.Wrapf(err, "task %s", t.TaskRecord.TaskID))
		}
	}
	if rollbackErrs.ErrorOrNil() != nil {
		log.WithError(rollbackErrs).WithField("offer_id", offer.ID).
			Warn("offerprocessor: rollback failed to durably delete one or more tasks after driver rejection")
	}
}

// matchOffer calls the offer matcher manager, converting a panic into the
// "match error" outcome SPEC_FULL.md §7 specifies: treat as empty with
// resendThisOffer=true.
func (p *Processor) matchOffer(deadline time.Time, offer models.Offer) (result models.MatchedTasks) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("offerprocessor: offer matcher panicked")
			p.metrics.matchErrors.Inc(1)
			result = models.MatchedTasks{OfferID: offer.ID, ResendThisOffer: true}
		}
	}()
	return p.matcher.MatchOffer(deadline, offer)
}

// persist iterates matched tasks in order, durably storing each one before
// moving to the next. Once savingDeadline passes, every remaining task
// (including the one whose turn it is) is rejected without being
// persisted.
func (p *Processor) persist(ctx context.Context, tasks []models.TaskWithSource, savingDeadline time.Time) []models.TaskWithSource {
	survivors := make([]models.TaskWithSource, 0, len(tasks))
	pastDeadline := false

	for _, t := range tasks {
		if !pastDeadline && p.clock.Now().After(savingDeadline) {
			pastDeadline = true
		}
		if pastDeadline {
			t.Source.Reject(reasonSavingTimeoutReached)
			continue
		}

		p.tracker.Created(t.TaskRecord.AppID, t.TaskRecord)
		if err := p.tracker.Store(ctx, t.TaskRecord.AppID, t.TaskRecord); err != nil {
			p.metrics.storeErrors.Inc(1)
			t.Source.Reject(fmt.Sprintf("storage error: %s", err))
			if termErr := p.tracker.Terminated(ctx, t.TaskRecord.AppID, t.TaskRecord.TaskID); termErr != nil {
				log.WithError(termErr).WithFields(log.Fields{
					"app_id":  t.TaskRecord.AppID,
					"task_id": t.TaskRecord.TaskID,
				}).Warn("offerprocessor: rollback failed to durably delete task after store error")
			}
			continue
		}

		survivors = append(survivors, t)
	}

	return survivors
}

// decline answers an offer with no survivors. refuseMillis is omitted
// (None) whenever the offer should be reconsidered soon: either the match
// itself asked for a resend, or some matched task failed to save. Only a
// clean "nobody wanted this offer" round gets the configured decline
// duration.
func (p *Processor) decline(offer models.Offer, matched models.MatchedTasks) {
	notAllSaved := len(matched.Tasks) > 0

	var refuseMillis *time.Duration
	if !matched.ResendThisOffer && !notAllSaved {
		d := p.cfg.DeclineOfferDuration
		refuseMillis = &d
	}
	p.launcher.DeclineOffer(offer.ID, refuseMillis)
}
