package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "autofib.analysis.BTCUSDT", AnalysisSubject("autofib", "btcusdt"))
	assert.Equal(t, "autofib.signal.EUR_USD", SignalSubject("autofib", "EUR_USD"))
	assert.Equal(t, "autofib.analysis.BRK_B", AnalysisSubject("autofib", "BRK.B"))
	assert.Equal(t, "autofib.analysis.*", AnalysisSubject("autofib", "*"))
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "AUTOFIB", StreamName("autofib"))
	assert.Equal(t, "AUTO_FIB_PROD", StreamName("auto-fib.prod"))
}
