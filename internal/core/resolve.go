package core

import (
	"context"

	pgerr "pgdial/internal/errors"
	"pgdial/internal/metrics"
	"pgdial/internal/stream"
	"pgdial/internal/transport"
	"pgdial/util"
)

// Resolver walks a candidate list in order and returns the first
// transport that opens.  Candidates are tried one at a time, never
// reordered or raced, each under the opener's time bound.
type Resolver struct {
	Opener  *transport.Opener
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Resolve returns a stream owning the first transport that opens, and
// the candidate it was opened to.
//
// An empty list fails with ErrNoHost without any I/O.  When every
// candidate fails the error is a *errors.FallbackError that unwraps to
// the last candidate's failure.  Cancelling ctx stops the walk.
func (r *Resolver) Resolve(ctx context.Context, candidates []transport.Candidate) (*stream.Stream, transport.Candidate, error) {
	if len(candidates) == 0 {
		return nil, transport.Candidate{}, pgerr.WrapKind(pgerr.KindNoHost, "resolve", "", nil)
	}

	opener := r.Opener
	if opener == nil {
		opener = &transport.Opener{}
	}
	logger := r.logger()

	attempts := make([]pgerr.Attempt, 0, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			break
		}

		addr := c.String()
		logger.Verbose("trying %s (%d of %d)", addr, i+1, len(candidates))
		r.Metrics.AttemptStarted()

		t, err := opener.Open(ctx, c)
		if err == nil {
			logger.Verbose("connected to %s", addr)
			return stream.New(t), c, nil
		}

		cerr := pgerr.Wrap("connect", addr, err)
		r.Metrics.AttemptFailed(addr, cerr.Timeout())
		logger.Debug("%v", cerr)
		attempts = append(attempts, pgerr.Attempt{Addr: addr, Err: cerr})
	}

	if len(attempts) == 0 {
		return nil, transport.Candidate{}, pgerr.Wrap("resolve", "", ctx.Err())
	}
	fe := pgerr.NewFallbackError(attempts)
	logger.Info("no candidate reachable: %+v", fe.All())
	return nil, transport.Candidate{}, fe
}

func (r *Resolver) logger() *util.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return util.NewLogger(0)
}
