package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/repository"
)

// SelectionStrategy decides which unclaimed item an attempt goes for.
type SelectionStrategy string

const (
	SelectUniform SelectionStrategy = "uniform"
	SelectOldest  SelectionStrategy = "oldest"
)

// ClaimOutcome is what a single claim attempt ended with.
type ClaimOutcome int

const (
	OutcomeClaimed ClaimOutcome = iota
	OutcomeNoneAvailable
	OutcomeNotFated
	OutcomeLostRace
	OutcomeError
)

func (o ClaimOutcome) String() string {
	switch o {
	case OutcomeClaimed:
		return "claimed"
	case OutcomeNoneAvailable:
		return "none_available"
	case OutcomeNotFated:
		return "not_fated"
	case OutcomeLostRace:
		return "lost_race"
	default:
		return "error"
	}
}

type ClaimResult struct {
	Outcome ClaimOutcome
	Item    *models.HeritageItem
}

// ClaimResponse is delivered on the channel returned by ClaimAsync.
type ClaimResponse struct {
	Item *models.HeritageItem
	Err  error
}

type ClaimEngineConfig struct {
	FateProbability float64
	Selection       SelectionStrategy
}

func DefaultClaimEngineConfig() ClaimEngineConfig {
	return ClaimEngineConfig{FateProbability: 0.5, Selection: SelectUniform}
}

func (c ClaimEngineConfig) Validate() error {
	if c.FateProbability < 0 || c.FateProbability > 1 {
		return fmt.Errorf("fate probability %v outside [0,1]", c.FateProbability)
	}
	switch c.Selection {
	case SelectUniform, SelectOldest:
		return nil
	default:
		return fmt.Errorf("unknown selection strategy %q", c.Selection)
	}
}

// Claimer hands out private heritage items. A nil item with a nil error means
// the caller did not win anything this time.
type Claimer interface {
	ClaimPrivateHeritageItem(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error)
}

// ClaimerFunc adapts a plain function to Claimer.
type ClaimerFunc func(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error)

func (f ClaimerFunc) ClaimPrivateHeritageItem(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error) {
	return f(ctx, heritageID, callerID)
}

type ClaimEngineOption func(*ClaimEngine)

// WithRand replaces the process-wide generator, mostly for seeded tests.
func WithRand(r *rand.Rand) ClaimEngineOption {
	return func(e *ClaimEngine) { e.rng = r }
}

func WithClaimMetrics(m *ClaimMetrics) ClaimEngineOption {
	return func(e *ClaimEngine) { e.metrics = m }
}

func WithClaimLogger(l zerolog.Logger) ClaimEngineOption {
	return func(e *ClaimEngine) { e.logger = l }
}

// ClaimEngine distributes unclaimed private items. Exclusivity comes from the
// repository's conditional write alone; the engine holds no lock while it
// talks to storage.
type ClaimEngine struct {
	repo    repository.HeritageItemRepositoryInterface
	cfg     ClaimEngineConfig
	metrics *ClaimMetrics
	logger  zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewClaimEngine(repo repository.HeritageItemRepositoryInterface, cfg ClaimEngineConfig, opts ...ClaimEngineOption) *ClaimEngine {
	e := &ClaimEngine{repo: repo, cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ClaimEngine) intN(n int) int {
	if e.rng == nil {
		return rand.IntN(n)
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(n)
}

func (e *ClaimEngine) float64() float64 {
	if e.rng == nil {
		return rand.Float64()
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *ClaimEngine) pick(items []models.HeritageItem) models.HeritageItem {
	if e.cfg.Selection == SelectOldest {
		oldest := items[0]
		for _, it := range items[1:] {
			if it.ID < oldest.ID {
				oldest = it
			}
		}
		return oldest
	}
	return items[e.intN(len(items))]
}

// Attempt runs one claim attempt and reports how it ended. Only a failure to
// read the candidates is returned as an error; a failed conditional write
// counts as a lost race.
func (e *ClaimEngine) Attempt(ctx context.Context, heritageID, callerID int64) (ClaimResult, error) {
	items, err := e.repo.FetchUnclaimedPrivateItems(ctx, heritageID)
	if err != nil {
		e.metrics.observe(OutcomeError)
		return ClaimResult{Outcome: OutcomeError}, err
	}
	if len(items) == 0 {
		return e.finish(OutcomeNoneAvailable, nil), nil
	}

	candidate := e.pick(items)
	if e.float64() >= e.cfg.FateProbability {
		return e.finish(OutcomeNotFated, nil), nil
	}

	won, err := e.repo.ConditionalAssignOwner(ctx, candidate.ID, callerID)
	if err != nil {
		e.logger.Warn().Err(err).
			Int64("heritage_id", heritageID).
			Int64("item_id", candidate.ID).
			Msg("conditional assign failed, treating as lost race")
		return e.finish(OutcomeLostRace, nil), nil
	}
	if !won {
		return e.finish(OutcomeLostRace, nil), nil
	}

	candidate.OwnerID = callerID
	e.logger.Info().
		Int64("heritage_id", heritageID).
		Int64("item_id", candidate.ID).
		Int64("user_id", callerID).
		Msg("heritage item claimed")
	return e.finish(OutcomeClaimed, &candidate), nil
}

func (e *ClaimEngine) finish(outcome ClaimOutcome, item *models.HeritageItem) ClaimResult {
	e.metrics.observe(outcome)
	return ClaimResult{Outcome: outcome, Item: item}
}

func (e *ClaimEngine) ClaimPrivateHeritageItem(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error) {
	res, err := e.Attempt(ctx, heritageID, callerID)
	if err != nil {
		return nil, err
	}
	return res.Item, nil
}

// ClaimAsync runs the attempt on its own goroutine. The returned channel
// receives exactly one response and is then closed.
func (e *ClaimEngine) ClaimAsync(ctx context.Context, heritageID, callerID int64) <-chan ClaimResponse {
	return ClaimAsync(ctx, e, heritageID, callerID)
}

// ClaimAsync runs c on its own goroutine and delivers exactly one response
// before closing the channel. The channel is buffered, so a caller that
// stops waiting does not leak the goroutine.
func ClaimAsync(ctx context.Context, c Claimer, heritageID, callerID int64) <-chan ClaimResponse {
	out := make(chan ClaimResponse, 1)
	go func() {
		defer close(out)
		item, err := c.ClaimPrivateHeritageItem(ctx, heritageID, callerID)
		out <- ClaimResponse{Item: item, Err: err}
	}()
	return out
}
