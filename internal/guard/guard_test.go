package guard

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitExcludesDriverAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	g := New(3, time.Minute, slog.Default())
	g.Record("flaky", OutcomeTimeout)
	g.Record("flaky", OutcomeTimeout)
	assert.Contains(t, g.Admit([]string{"flaky"}), "flaky")

	g.Record("flaky", OutcomeError)
	assert.NotContains(t, g.Admit([]string{"flaky"}), "flaky")
}

func TestRecordOKResetsFailureStreak(t *testing.T) {
	t.Parallel()

	g := New(2, time.Minute, slog.Default())
	g.Record("solver", OutcomeTimeout)
	g.Record("solver", OutcomeOK)
	g.Record("solver", OutcomeTimeout)
	assert.Contains(t, g.Admit([]string{"solver"}), "solver")
}

func TestDenyAndAllow(t *testing.T) {
	t.Parallel()

	g := New(3, time.Minute, slog.Default())
	g.Deny("bad-actor")
	assert.NotContains(t, g.Admit([]string{"bad-actor"}), "bad-actor")

	g.Allow("bad-actor")
	assert.Contains(t, g.Admit([]string{"bad-actor"}), "bad-actor")
}

func TestCooldownExpires(t *testing.T) {
	t.Parallel()

	g := New(1, 10*time.Millisecond, slog.Default())
	g.Record("flaky", OutcomeTimeout)
	assert.NotContains(t, g.Admit([]string{"flaky"}), "flaky")

	time.Sleep(20 * time.Millisecond)
	assert.Contains(t, g.Admit([]string{"flaky"}), "flaky")
}
