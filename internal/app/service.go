package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

// ResultsNotReady is returned by Results until the session's run has finished.
const ResultsNotReady = "Results not ready yet. Please try again later."

// AlreadyRunning answers chat messages that arrive while a run is in progress.
const AlreadyRunning = "Your leads are still being researched. Check the results shortly."

var ErrShutdown = errors.New("app: service is shutting down")

// Service is the chat-facing front of the pipeline. Intake runs inline; the
// pipeline runs detached from the request that completed intake.
type Service struct {
	Intake   *agent.Intake
	Pipeline *Pipeline
	Sessions *Sessions
	Logger   *zap.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	stop    context.Context
	cancel  context.CancelFunc
}

func NewService(intake *agent.Intake, pipeline *Pipeline, sessions *Sessions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Service{
		Intake:   intake,
		Pipeline: pipeline,
		Sessions: sessions,
		Logger:   logger,
		stop:     stop,
		cancel:   cancel,
	}
}

// Chat handles one intake message. When intake completes, the pipeline starts in
// the background and the returned turn is marked complete.
func (s *Service) Chat(ctx context.Context, session, message string) (agent.Turn, error) {
	if s.Sessions.Get(session).Status == StatusRunning {
		return agent.Turn{Response: AlreadyRunning}, nil
	}
	s.Sessions.MarkIntake(session)

	turn, err := s.Intake.Handle(ctx, session, message)
	if err != nil {
		s.Logger.Warn("intake failed", zap.String("session", session), zap.String("error", redact.Secrets(err.Error())))
		return turn, err
	}
	if !turn.Complete {
		return turn, nil
	}
	if err := s.start(ctx, session, turn.Payload); err != nil {
		return agent.Turn{Response: AlreadyRunning}, err
	}
	return turn, nil
}

// start launches the pipeline for session. The run outlives ctx's cancellation but
// keeps its values, and stops when the service shuts down.
func (s *Service) start(ctx context.Context, session, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrShutdown
	}
	gen, ok := s.Sessions.Start(session)
	if !ok {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopWatch := context.AfterFunc(s.stop, cancel)
	store := orchard.New(session)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stopWatch()

		res, err := s.Pipeline.Run(runCtx, store, payload)
		if err != nil {
			s.Logger.Warn("pipeline run failed", zap.String("session", session), zap.String("error", redact.Secrets(err.Error())))
		}
		if !s.Sessions.Finish(session, gen, res, store.Context(), err) {
			s.Logger.Info("discarding results of a reset session", zap.String("session", session))
		}
	}()
	return nil
}

// NewSession clears the session's conversation and results.
func (s *Service) NewSession(session string) {
	s.Intake.Reset(session)
	s.Sessions.Reset(session)
}

// Results returns the session's final leads text once its run finished.
func (s *Service) Results(session string) (string, bool) {
	sess := s.Sessions.Get(session)
	switch sess.Status {
	case StatusDone:
		return sess.Results, true
	case StatusFailed:
		if strings.TrimSpace(sess.Results) != "" {
			return sess.Results, true
		}
		return "Lead research failed: " + redact.Secrets(sess.Error), true
	default:
		return ResultsNotReady, false
	}
}

// Export returns the CSV/TSV rendering of the session's leads.
func (s *Service) Export(session string) (string, bool) {
	sess := s.Sessions.Get(session)
	if sess.Status != StatusDone || sess.Delimited == "" {
		return "", false
	}
	return sess.Delimited, true
}

// Snapshot returns the orchard of the session's last finished run.
func (s *Service) Snapshot(session string) (*orchard.Context, bool) {
	sess := s.Sessions.Get(session)
	return sess.Orchard, sess.Orchard != nil
}

// Shutdown stops accepting runs and waits for running ones. When ctx ends first,
// running pipelines are cancelled and still waited for.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
