package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/fault"
)

// withClientRecovery runs fn against the shared client. A transport
// failure resets the client and runs fn once more; the second outcome is
// final.
func withClientRecovery[T any](ctx context.Context, h *clientHolder, log *zap.Logger, op string, fn func(agentcli.Client) (T, error)) (T, error) {
	attempt := func() (T, uint64, error) {
		var zero T
		c, gen, err := h.get(ctx)
		if err != nil {
			return zero, gen, err
		}
		res, err := fn(c)
		return res, gen, err
	}

	res, gen, err := attempt()
	if err == nil || !fault.IsTransport(err) {
		return res, err
	}

	log.Warn("transport failure, resetting client", zap.String("op", op), zap.Error(err))
	h.reset(gen)

	res, _, err = attempt()
	return res, err
}

// withThreadRecovery runs fn for threadID. A transport failure drops the
// thread's session and runs fn once more. If the retry fails too, the
// first error is returned.
func (s *Service) withThreadRecovery(threadID, op string, fn func() error) error {
	err := fn()
	if err == nil || !fault.IsTransport(err) {
		return err
	}

	log := s.log.With(zap.String("thread_id", threadID), zap.String("op", op))
	log.Warn("transport failure, dropping thread session", zap.Error(err))
	s.dropSession(threadID)

	if retryErr := fn(); retryErr != nil {
		log.Warn("retry failed", zap.Error(retryErr))
		return err
	}
	return nil
}
