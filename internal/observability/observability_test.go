package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	level, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger_JSONCarriesAppAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "rolloutd", zerolog.WarnLevel, LogFormatJSON)

	logger.Info().Msg("hidden")
	logger.Warn().Str("rollout_id", "r1").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "rolloutd", entry["app"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "r1", entry["rollout_id"])
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(reconcilePasses.WithLabelValues(string(domain.DecisionAdvanced)))
	RecordReconcile(domain.ReconcileResult{Decision: domain.DecisionAdvanced, OutcomesRecorded: 2, Dispatched: 3})
	RecordTick(40 * time.Millisecond)
	RecordSkippedTick()
	RecordReconcileError()
	RecordOutcome()
	RecordDispatched(1)

	after := testutil.ToFloat64(reconcilePasses.WithLabelValues(string(domain.DecisionAdvanced)))
	assert.Equal(t, before+1, after)
}

func TestLogNotifier_WritesAndCounts(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: zerolog.New(&buf)}
	counter := rolloutEvents.WithLabelValues(string(domain.EventRolloutRolledBack))
	before := testutil.ToFloat64(counter)

	err := n.Notify(context.Background(), domain.Notification{
		Event: domain.Event{
			Type:        domain.EventRolloutRolledBack,
			RolloutID:   "r1",
			TenantID:    "tenant-a",
			BundleID:    "agent",
			Version:     "2.1.0",
			PhaseNumber: 2,
		},
		At: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "rollout.rolled_back", entry["event"])
	assert.EqualValues(t, 2, entry["phase"])
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
