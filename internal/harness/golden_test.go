package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_QueryThenDelete(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/query_then_delete.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "failures: %v", result.Errors)
}

func TestTraceSnapshotMarshal(t *testing.T) {
	rows := 0
	data, err := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Seq: 1, Type: EventRequest, Method: "PATCH", URL: "Orders(1)", ETag: `W/"1"`, Body: map[string]any{"b": 1, "a": "<x>"}},
			{Seq: 2, Type: EventOutcome, Rows: &rows},
		},
	}.Marshal()
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasSuffix(text, "}\n"))
	assert.Contains(t, text, `"etag": "W/\"1\""`)
	assert.Contains(t, text, `"a": "<x>"`, "html is not escaped")
	assert.Less(t, strings.Index(text, `"a"`), strings.Index(text, `"b"`), "map keys are sorted")
	assert.Contains(t, text, `"rows": 0`)
	assert.NotContains(t, text, `"total"`)
}
