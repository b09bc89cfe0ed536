package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func request(fields map[string]any) value.Value {
	base := map[string]any{
		"schema_version": RequestSchema,
		"planner":        MPPI,
		"model_service":  "toy-1d",
		"state":          []any{0.0},
		"budget_ms":      10.0,
	}
	for k, v := range fields {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return value.MustFromAny(base)
}

func TestParseRequestValid(t *testing.T) {
	t.Parallel()
	req, err := ParseRequest(request(map[string]any{
		"seed":     int64(7),
		"work_max": int64(128),
		"mppi":     map[string]any{"lambda": 1.0},
	}))
	require.NoError(t, err)
	require.Equal(t, MPPI, req.Planner)
	require.Equal(t, "toy-1d", req.ModelService)
	require.Equal(t, []float64{0}, req.State)
	require.Equal(t, 10.0, req.BudgetMs)
	require.True(t, req.HasSeed)
	require.Equal(t, uint64(7), req.Seed)
	require.Equal(t, 128, req.WorkMax)
	lambda, ok := req.Params.Field("lambda")
	require.True(t, ok)
	require.Equal(t, value.Float(1), lambda)
}

func TestParseRequestScalarState(t *testing.T) {
	t.Parallel()
	req, err := ParseRequest(request(map[string]any{"state": 0.5}))
	require.NoError(t, err)
	require.Equal(t, []float64{0.5}, req.State)
	require.False(t, req.HasSeed)
	require.Zero(t, req.WorkMax)
}

func TestParseRequestErrors(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name  string
		req   value.Value
		field string
	}{
		{"not a map", value.Int(1), ""},
		{"missing schema", request(map[string]any{"schema_version": nil}), "schema_version"},
		{"wrong schema", request(map[string]any{"schema_version": "planner.request.v2"}), "schema_version"},
		{"unknown planner", request(map[string]any{"planner": "rrt"}), "planner"},
		{"missing model", request(map[string]any{"model_service": nil}), "model_service"},
		{"empty model", request(map[string]any{"model_service": ""}), "model_service"},
		{"missing state", request(map[string]any{"state": nil}), "state"},
		{"bad state", request(map[string]any{"state": []any{"x"}}), "state"},
		{"zero budget", request(map[string]any{"budget_ms": 0.0}), "budget_ms"},
		{"negative budget", request(map[string]any{"budget_ms": -5.0}), "budget_ms"},
		{"negative seed", request(map[string]any{"seed": int64(-1)}), "seed"},
		{"fractional seed", request(map[string]any{"seed": 1.5}), "seed"},
		{"zero work", request(map[string]any{"work_max": int64(0)}), "work_max"},
		{"block not a map", request(map[string]any{"mppi": 3.0}), "mppi"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseRequest(tc.req)
			require.Error(t, err)
			require.True(t, IsConfigError(err))
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestResultToValue(t *testing.T) {
	t.Parallel()
	r := &Result{
		Planner:      MCTS,
		Status:       StatusOK,
		ActionSchema: "toy1d.velocity.v1",
		U:            []float64{0.25},
		Confidence:   0.5,
		BudgetMs:     5,
		TimeUsedMs:   1.5,
		WorkDone:     10,
		Seed:         3,
	}
	v := r.ToValue()
	schema, _ := v.Field("schema_version")
	require.Equal(t, value.String(ResultSchema), schema)
	action, ok := v.Field("action")
	require.True(t, ok)
	u, _ := action.Field("u")
	require.Equal(t, value.Floats(0.25), u)
	stats, _ := v.Field("stats")
	work, _ := stats.Field("work_done")
	require.Equal(t, value.Int(10), work)
	_, hasErr := v.Field("error")
	require.False(t, hasErr)

	r.U = nil
	r.Status = StatusNoAction
	_, ok = r.ToValue().Field("action")
	require.False(t, ok)
	require.False(t, r.HasAction())

	data, err := r.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"noaction"`)
}

func TestClamp01(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0.0, clamp01(-1))
	require.Equal(t, 1.0, clamp01(2))
	require.Equal(t, 0.3, clamp01(0.3))
	require.Equal(t, 0.0, clamp01(nan()))
}
