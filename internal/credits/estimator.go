// Package credits implements job cost estimation and the affordability gate
// applied before any synthesis work starts.
package credits

import (
	"context"
	"fmt"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Estimator computes the token count and credit cost of a job from its
// chapter text and the account's per-token rate.
type Estimator struct {
	tokenizer core.Tokenizer
	rates     core.RateProvider
}

// NewEstimator creates an estimator.
func NewEstimator(tokenizer core.Tokenizer, rates core.RateProvider) *Estimator {
	return &Estimator{
		tokenizer: tokenizer,
		rates:     rates,
	}
}

// Estimate tokenizes every chapter and prices the total at the account rate.
// The same tokenizer backs chunking, so the estimate reconciles with the
// work actually performed.
func (e *Estimator) Estimate(
	ctx context.Context,
	accountID string,
	chapters []core.Chapter,
) (core.Estimate, error) {
	rate, err := e.rates.PerTokenRate(ctx, accountID)
	if err != nil {
		return core.Estimate{}, fmt.Errorf("failed to resolve token rate for account '%s': %w", accountID, err)
	}

	totalTokens := 0
	for _, chapter := range chapters {
		totalTokens += e.tokenizer.CountTokens(chapter.Content)
	}

	return core.Estimate{
		TotalTokens: totalTokens,
		TotalCost:   float64(totalTokens) * rate,
	}, nil
}

// Decision is the outcome of an affordability check, with the amounts
// recorded on the job when the check fails.
type Decision struct {
	Affordable bool
	Required   float64
	Available  float64
}

// Gate compares a job estimate against the account balance minus the credits
// already reserved by the account's other queued or processing jobs.
//
// Balance and commitments are read without a cross-job lock; two jobs
// submitted concurrently can both pass. That soft-overdraft window is a
// deliberate trade-off: credits are only deducted after successful
// completion.
type Gate struct {
	ledger core.CreditLedger
	jobs   core.JobStore
}

// NewGate creates an affordability gate.
func NewGate(ledger core.CreditLedger, jobs core.JobStore) *Gate {
	return &Gate{
		ledger: ledger,
		jobs:   jobs,
	}
}

// Check reports whether the account can afford the estimate on top of its
// in-flight commitments. jobID identifies the job under consideration so its
// own reservation is not counted against it.
func (g *Gate) Check(
	ctx context.Context,
	accountID, jobID string,
	estimate core.Estimate,
) (Decision, error) {
	balance, err := g.ledger.Balance(ctx, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read balance for account '%s': %w", accountID, err)
	}

	committed, err := g.jobs.ActiveCommitments(ctx, accountID, jobID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to sum active commitments for account '%s': %w", accountID, err)
	}

	required := estimate.TotalCost + committed

	return Decision{
		Affordable: balance >= required,
		Required:   required,
		Available:  balance,
	}, nil
}
