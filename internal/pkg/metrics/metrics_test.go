package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAuthAttempt(t *testing.T) {
	before := testutil.ToFloat64(AuthAttempts.WithLabelValues("login", ResultRejected))

	RecordAuthAttempt("login", ResultRejected)
	RecordAuthAttempt("login", ResultRejected)

	after := testutil.ToFloat64(AuthAttempts.WithLabelValues("login", ResultRejected))
	assert.Equal(t, before+2, after)
}
