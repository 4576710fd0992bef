package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// The job depends on narrow slices of the service layer. Each call
// returns how many rows it touched.
type trustSweeper interface {
	ExpireEdges(ctx context.Context) (int64, error)
}

type sessionSweeper interface {
	ExpireSessions(ctx context.Context) (int64, error)
}

type runSweeper interface {
	SweepStaleRuns(ctx context.Context, threshold time.Duration) (int64, error)
}

// SweepJob periodically expires past-due trust edges and web sessions
// and ends runs whose executor stopped heartbeating. Expiry is also
// applied lazily on read; the sweep keeps the tables honest for rows
// nobody is reading.
type SweepJob struct {
	trust          trustSweeper
	sessions       sessionSweeper
	runs           runSweeper
	staleThreshold time.Duration
	interval       time.Duration
	done           chan struct{}
}

func NewSweepJob(
	trust trustSweeper,
	sessions sessionSweeper,
	runs runSweeper,
	staleThreshold time.Duration,
	interval time.Duration,
) *SweepJob {
	return &SweepJob{
		trust:          trust,
		sessions:       sessions,
		runs:           runs,
		staleThreshold: staleThreshold,
		interval:       interval,
		done:           make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runSweep(ctx, "trust edges", j.trust.ExpireEdges)
	j.runSweep(ctx, "web sessions", j.sessions.ExpireSessions)
	j.runSweep(ctx, "stale runs", func(ctx context.Context) (int64, error) {
		return j.runs.SweepStaleRuns(ctx, j.staleThreshold)
	})
}

func (j *SweepJob) runSweep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", name)
	}
}
