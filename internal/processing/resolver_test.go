package processing

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-platform/internal/models"
)

func rawSeries(start string, tokens ...string) []models.RawObservation {
	d, err := models.ParseDate(start)
	if err != nil {
		panic(err)
	}
	out := make([]models.RawObservation, len(tokens))
	for i, tok := range tokens {
		out[i] = models.RawObservation{Date: d.AddDate(0, 0, i), Token: tok}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Record(e AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func mustResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(opts...)
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		kind   models.ElementKind
		tokens []string
		want   []float64
	}{
		{
			name:   "numeric tokens are identity",
			kind:   models.KindTemperature,
			tokens: []string{"50", "-3", "0", "71.5"},
			want:   []float64{50, -3, 0, 71.5},
		},
		{
			name:   "numeric precipitation is identity",
			kind:   models.KindPrecipitation,
			tokens: []string{"0.00", "0.12", "1.5"},
			want:   []float64{0, 0.12, 1.5},
		},
		{
			name:   "missing uses configured value",
			opts:   []Option{WithMissingValue(-999)},
			kind:   models.KindTemperature,
			tokens: []string{"M"},
			want:   []float64{-999},
		},
		{
			name:   "trace uses configured value",
			opts:   []Option{WithTraceValue(0.001)},
			kind:   models.KindPrecipitation,
			tokens: []string{"T"},
			want:   []float64{0.001},
		},
		{
			name:   "accumulation run is averaged",
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "0", "0", "1.2A"},
			want:   []float64{0.3, 0.3, 0.3, 0.3},
		},
		{
			name:   "standalone accumulation end keeps its value",
			kind:   models.KindPrecipitation,
			tokens: []string{"2.3A"},
			want:   []float64{2.3},
		},
		{
			name:   "start beyond horizon becomes zero",
			opts:   []Option{WithHorizon(1)},
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "0", "0"},
			want:   []float64{0, 0, 0},
		},
		{
			name:   "run overwrites missing and trace inside it",
			kind:   models.KindPrecipitation,
			tokens: []string{"0.1", "S", "M", "T", "2.0A", "0.4"},
			want:   []float64{0.1, 0.5, 0.5, 0.5, 0.5, 0.4},
		},
		{
			name:   "end just outside horizon is standalone",
			opts:   []Option{WithHorizon(3)},
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "0", "0", "1.2A"},
			want:   []float64{0, 0, 0, 1.2},
		},
		{
			name:   "end at last horizon offset closes run",
			opts:   []Option{WithHorizon(4)},
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "0", "0", "1.2A"},
			want:   []float64{0.3, 0.3, 0.3, 0.3},
		},
		{
			name:   "back to back runs",
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "1.0A", "S", "0", "0.9A"},
			want:   []float64{0.5, 0.5, 0.3, 0.3, 0.3},
		},
		{
			name:   "nested start is consumed by earliest run",
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "S", "0.9A"},
			want:   []float64{0.3, 0.3, 0.3},
		},
		{
			name:   "trace total run",
			opts:   []Option{WithTraceValue(0.002)},
			kind:   models.KindPrecipitation,
			tokens: []string{"S", "TA"},
			want:   []float64{0.001, 0.001},
		},
		{
			name:   "standalone end before unresolved start",
			opts:   []Option{WithHorizon(2)},
			kind:   models.KindPrecipitation,
			tokens: []string{"0.7A", "S", "0"},
			want:   []float64{0.7, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustResolver(t, tt.opts...)
			raw := rawSeries("2020-06-01", tt.tokens...)

			got, err := r.Resolve("USC00045123", raw, tt.kind)
			require.NoError(t, err)
			require.Len(t, got.Values, len(tt.want))
			assert.InDeltaSlice(t, tt.want, got.Values, 1e-9)
			assert.Equal(t, raw[0].Date, got.Start)
			assert.Equal(t, raw[len(raw)-1].Date, got.End)
		})
	}
}

func TestResolveDefaultMissingIsNaN(t *testing.T) {
	r := mustResolver(t)
	got, err := r.Resolve("X", rawSeries("2020-01-01", "M", "T"), models.KindPrecipitation)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Values[0]))
	assert.Equal(t, DefaultTraceValue, got.Values[1])
	assert.Equal(t, 1, got.Summary.Missing)
	assert.Equal(t, 1, got.Summary.Traces)
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	r := mustResolver(t)
	raw := rawSeries("2020-01-01", "S", "0", "1.2A")
	before := append([]models.RawObservation(nil), raw...)

	_, err := r.Resolve("X", raw, models.KindPrecipitation)
	require.NoError(t, err)
	assert.Equal(t, before, raw)
}

func TestResolveDataFormatError(t *testing.T) {
	tests := []struct {
		name   string
		kind   models.ElementKind
		tokens []string
		bad    int
	}{
		{name: "garbage precipitation", kind: models.KindPrecipitation, tokens: []string{"0.1", "x", "0.2"}, bad: 1},
		{name: "malformed accumulation end", kind: models.KindPrecipitation, tokens: []string{"S", "1.2.3A"}, bad: 1},
		{name: "trace on temperature", kind: models.KindTemperature, tokens: []string{"50", "T"}, bad: 1},
		{name: "accumulation on temperature", kind: models.KindTemperature, tokens: []string{"S", "50"}, bad: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustResolver(t)
			raw := rawSeries("2021-03-01", tt.tokens...)

			got, err := r.Resolve("USW00023174", raw, tt.kind)
			assert.Nil(t, got)

			var dfErr *models.DataFormatError
			require.True(t, errors.As(err, &dfErr), "expected DataFormatError, got %v", err)
			assert.Equal(t, "USW00023174", dfErr.StationID)
			assert.Equal(t, raw[tt.bad].Date, dfErr.Date)
			assert.Equal(t, tt.tokens[tt.bad], dfErr.Token)
			assert.False(t, dfErr.IsTransient())
		})
	}
}

func TestResolveRejectsGappedDates(t *testing.T) {
	r := mustResolver(t)
	raw := rawSeries("2021-03-01", "1", "2", "3")
	raw[2].Date = raw[2].Date.AddDate(0, 0, 1)

	_, err := r.Resolve("X", raw, models.KindTemperature)
	var alErr *models.AlignmentError
	require.ErrorAs(t, err, &alErr)
	assert.Equal(t, 4, alErr.Expected)
	assert.Equal(t, 3, alErr.Actual)
}

func TestResolveEmpty(t *testing.T) {
	r := mustResolver(t)
	got, err := r.Resolve("X", nil, models.KindPrecipitation)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestResolveAudit(t *testing.T) {
	sink := &recordingSink{}
	r := mustResolver(t, WithAuditSink(sink), WithHorizon(3))

	raw := rawSeries("2022-07-01", "S", "0.6A", "1.1A", "S", "0", "0")
	got, err := r.Resolve("X", raw, models.KindPrecipitation)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.3, 1.1, 0, 0, 0}, got.Values, 1e-9)

	require.Len(t, sink.events, 3)
	assert.Equal(t, AuditAccumulationRun, sink.events[0].Kind)
	assert.Equal(t, raw[0].Date, sink.events[0].Date)
	assert.Equal(t, raw[1].Date, sink.events[0].EndDate)
	assert.Equal(t, 2, sink.events[0].Days)
	assert.InDelta(t, 0.6, sink.events[0].Value, 1e-9)

	assert.Equal(t, AuditStandaloneEnd, sink.events[1].Kind)
	assert.Equal(t, "1.1A", sink.events[1].Token)
	assert.Equal(t, AuditStandaloneStart, sink.events[2].Kind)
	assert.Equal(t, raw[3].Date, sink.events[2].Date)

	assert.Equal(t, models.ResolutionSummary{
		Numbers:          2,
		Runs:             1,
		RunDays:          2,
		StandaloneEnds:   1,
		StandaloneStarts: 1,
	}, got.Summary)
}

func TestNewResolverValidation(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		field string
	}{
		{name: "zero horizon", opts: []Option{WithHorizon(0)}, field: "accumulation_horizon"},
		{name: "nil distribution", opts: []Option{WithDistributionPolicy(nil)}, field: "accumulation_distribution_policy"},
		{name: "bad A policy", opts: []Option{WithStandalonePolicies("drop", PolicyForceZero)}, field: "standalone_A_policy"},
		{name: "bad S policy", opts: []Option{WithStandalonePolicies(PolicyEqualToValue, "missing")}, field: "standalone_S_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.opts...)
			var vErr *models.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestResolverConcurrentUse(t *testing.T) {
	r := mustResolver(t)
	raw := rawSeries("2020-01-01", "S", "0", "0", "1.2A", "T", "M")

	var wg sync.WaitGroup
	results := make([][]float64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Resolve("X", raw, models.KindPrecipitation)
			if err == nil {
				results[i] = s.Values
			}
		}(i)
	}
	wg.Wait()

	for _, vals := range results {
		require.Len(t, vals, 6)
		assert.InDeltaSlice(t, results[0][:5], vals[:5], 0)
	}
}
