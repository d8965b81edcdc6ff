package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"corpusbot/internal/llm"
	"corpusbot/internal/models"
	"corpusbot/internal/prompt"
	"corpusbot/internal/record"
)

// GeneratorChain runs a prompt through ordered backends.
type GeneratorChain interface {
	Run(ctx context.Context, prompt string) (llm.Result, bool)
}

// CorpusAppender durably stores one record and returns the new count.
type CorpusAppender interface {
	Append(ctx context.Context, rec *models.TrainingRecord) (int, error)
}

// Pipeline turns input text into a stored training record.
type Pipeline struct {
	chain     GeneratorChain
	store     CorpusAppender
	incidents *IncidentRecorder
	locks     *LockManager
	logger    *zap.Logger
}

// NewPipeline wires the pipeline. locks may be nil when ProcessContent is
// not used.
func NewPipeline(chain GeneratorChain, store CorpusAppender, incidents *IncidentRecorder, locks *LockManager, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		chain:     chain,
		store:     store,
		incidents: incidents,
		locks:     locks,
		logger:    logger,
	}
}

// Process runs one input to completion. It always returns an Outcome; a
// panic anywhere below is reported as an internal-error rejection.
func (p *Pipeline) Process(ctx context.Context, text string, mode models.Mode) (out models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			p.logger.Error("Pipeline panicked", zap.Error(err), zap.ByteString("stack", debug.Stack()))
			out = models.Outcome{
				Kind:   models.OutcomeRejected,
				Reason: models.ReasonInternalError,
				IncidentCode: p.incidents.Record(Incident{
					Kind:   models.OutcomeRejected,
					Reason: models.ReasonInternalError,
					Input:  text,
					Err:    err,
				}),
			}
		}
	}()

	mode = models.ParseMode(string(mode))
	res, ok := p.chain.Run(ctx, prompt.Build(mode, text))
	if !ok {
		return models.Outcome{
			Kind: models.OutcomeGeneratorExhausted,
			IncidentCode: p.incidents.Record(Incident{
				Kind:  models.OutcomeGeneratorExhausted,
				Input: text,
				Err:   ctx.Err(),
			}),
		}
	}

	rec, err := record.Build(res.Text)
	if err != nil {
		return models.Outcome{
			Kind:    models.OutcomeRejected,
			Reason:  models.ReasonMalformedRecord,
			Backend: res.Backend,
			IncidentCode: p.incidents.Record(Incident{
				Kind:   models.OutcomeRejected,
				Reason: models.ReasonMalformedRecord,
				Input:  text,
				Raw:    res.Text,
				Err:    err,
			}),
		}
	}

	count, err := p.store.Append(ctx, rec)
	if err != nil {
		return models.Outcome{
			Kind:    models.OutcomeRejected,
			Reason:  models.ReasonStoreFailure,
			Backend: res.Backend,
			IncidentCode: p.incidents.Record(Incident{
				Kind:   models.OutcomeRejected,
				Reason: models.ReasonStoreFailure,
				Input:  text,
				Raw:    res.Text,
				Err:    err,
			}),
		}
	}

	p.logger.Info("Training record accepted",
		zap.String("backend", res.Backend),
		zap.String("mode", string(mode)),
		zap.Int("count", count))

	return models.Outcome{
		Kind:    models.OutcomeAccepted,
		Record:  rec,
		Count:   count,
		Backend: res.Backend,
	}
}

// ProcessContent is Process guarded by the lock marker for contentID. A
// second call for an id that is still in flight returns OutcomeDuplicate
// without generating anything.
func (p *Pipeline) ProcessContent(ctx context.Context, contentID, text string, mode models.Mode) models.Outcome {
	var out models.Outcome
	err := p.locks.WithLock(ctx, contentID, func(ctx context.Context) error {
		out = p.Process(ctx, text, mode)
		return nil
	})

	switch {
	case err == nil:
		return out
	case errors.Is(err, ErrDuplicateInFlight):
		p.logger.Info("Dropping duplicate in-flight content", zap.String("content_id", contentID))
		return models.Outcome{Kind: models.OutcomeDuplicate}
	default:
		return models.Outcome{
			Kind:   models.OutcomeRejected,
			Reason: models.ReasonInternalError,
			IncidentCode: p.incidents.Record(Incident{
				Kind:   models.OutcomeRejected,
				Reason: models.ReasonInternalError,
				Input:  text,
				Err:    err,
			}),
		}
	}
}
