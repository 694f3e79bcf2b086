package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultFailure, Result(errors.New("boom")))
}

func TestRegistry(t *testing.T) {
	before := testutil.ToFloat64(WebhookPostsTotal.WithLabelValues(ResultSuccess))
	WebhookPostsTotal.WithLabelValues(ResultSuccess).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WebhookPostsTotal.WithLabelValues(ResultSuccess)))

	families, err := Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["energyid_monitor_webhook_posts_total"])
	assert.True(t, names["go_goroutines"])
}
