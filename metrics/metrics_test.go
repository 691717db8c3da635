package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	Init(nil)
	Init(nil) // second call is a no-op

	before := testutil.ToFloat64(charges.WithLabelValues("charged"))
	AddCharges("charged", 3)
	AddCharges("charged", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(charges.WithLabelValues("charged")))

	runsBefore := testutil.ToFloat64(chargeRuns.WithLabelValues(ResultSuccess))
	ObserveChargeRun("", 40*time.Millisecond)
	assert.Equal(t, runsBefore+1, testutil.ToFloat64(chargeRuns.WithLabelValues(ResultSuccess)))

	IncStatementExport("")
	assert.Equal(t, float64(1), testutil.ToFloat64(statementExports.WithLabelValues("unknown")))

	AddLateFees("applied", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(lateFees.WithLabelValues("applied")))

	AddReminders("sent", 4)
	AddReminders("sent", -1)
	assert.Equal(t, float64(4), testutil.ToFloat64(reminders.WithLabelValues("sent")))
}
