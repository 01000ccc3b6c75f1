package processing

import (
	"fmt"
	"math"
	"time"

	"climate-platform/internal/models"
)

// DefaultTraceValue is the small positive amount substituted for a trace report
const DefaultTraceValue = 0.00001

// AuditKind classifies a resolution decision worth reporting
type AuditKind string

const (
	AuditAccumulationRun AuditKind = "accumulation_run"
	AuditStandaloneEnd   AuditKind = "standalone_accumulation_end"
	AuditStandaloneStart AuditKind = "standalone_accumulation_start"
)

// AuditEvent describes one accumulation decision made while resolving a station.
// For runs Date is the first day and EndDate the day carrying the total.
type AuditEvent struct {
	StationID string
	Kind      AuditKind
	Date      time.Time
	EndDate   time.Time
	Token     string
	Days      int
	Value     float64
}

// AuditSink receives audit events. Implementations must be safe for
// concurrent use when one Resolver is shared across goroutines.
type AuditSink interface {
	Record(event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink
type AuditSinkFunc func(event AuditEvent)

// Record calls f(event)
func (f AuditSinkFunc) Record(event AuditEvent) { f(event) }

// Resolver turns raw daily tokens into numeric series.
// A Resolver holds no mutable state and may be shared.
type Resolver struct {
	missingValue float64
	traceValue   float64
	horizon      int
	distribution DistributionPolicy
	standaloneA  string
	standaloneS  string
	audit        AuditSink
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMissingValue sets the substitute for "M"
func WithMissingValue(v float64) Option {
	return func(r *Resolver) { r.missingValue = v }
}

// WithTraceValue sets the substitute for "T"
func WithTraceValue(v float64) Option {
	return func(r *Resolver) { r.traceValue = v }
}

// WithHorizon sets the maximum accumulation run length in days
func WithHorizon(days int) Option {
	return func(r *Resolver) { r.horizon = days }
}

// WithDistributionPolicy overrides how run totals are spread
func WithDistributionPolicy(p DistributionPolicy) Option {
	return func(r *Resolver) { r.distribution = p }
}

// WithStandalonePolicies sets the policy names for unmatched "A" and "S" tokens
func WithStandalonePolicies(endPolicy, startPolicy string) Option {
	return func(r *Resolver) {
		r.standaloneA = endPolicy
		r.standaloneS = startPolicy
	}
}

// WithAuditSink routes accumulation decisions to sink. A nil sink disables auditing.
func WithAuditSink(sink AuditSink) Option {
	return func(r *Resolver) { r.audit = sink }
}

// NewResolver creates a resolver with defaults: missing NaN, trace 0.00001,
// horizon 50, average-across-run distribution
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		missingValue: math.NaN(),
		traceValue:   DefaultTraceValue,
		horizon:      DefaultHorizon,
		distribution: AverageAcrossRun{},
		standaloneA:  PolicyEqualToValue,
		standaloneS:  PolicyForceZero,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.horizon < 1 {
		return nil, &models.ValidationError{
			Field:   "accumulation_horizon",
			Value:   fmt.Sprintf("%d", r.horizon),
			Message: "accumulation horizon must be at least 1 day",
		}
	}
	if r.distribution == nil {
		return nil, &models.ValidationError{
			Field:   "accumulation_distribution_policy",
			Message: "accumulation distribution policy is required",
		}
	}
	if r.standaloneA != PolicyEqualToValue {
		return nil, &models.ValidationError{
			Field:   "standalone_A_policy",
			Value:   r.standaloneA,
			Message: fmt.Sprintf("unsupported standalone A policy %q", r.standaloneA),
		}
	}
	if r.standaloneS != PolicyForceZero {
		return nil, &models.ValidationError{
			Field:   "standalone_S_policy",
			Value:   r.standaloneS,
			Message: fmt.Sprintf("unsupported standalone S policy %q", r.standaloneS),
		}
	}
	return r, nil
}

// MissingValue returns the configured missing substitute
func (r *Resolver) MissingValue() float64 { return r.missingValue }

// TraceValue returns the configured trace substitute
func (r *Resolver) TraceValue() float64 { return r.traceValue }

// Horizon returns the configured accumulation horizon
func (r *Resolver) Horizon() int { return r.horizon }

// Resolve converts one station's consecutive daily tokens into a numeric series.
//
// Temperature elements accept only numbers and "M". Precipitation-like
// elements additionally resolve "T", accumulation runs, and unmatched "A"
// and "S" tokens. The input is not modified and the output has one value
// per input day.
func (r *Resolver) Resolve(stationID string, raw []models.RawObservation, kind models.ElementKind) (*models.ResolvedSeries, error) {
	series := &models.ResolvedSeries{StationID: stationID}
	if len(raw) == 0 {
		return series, nil
	}

	series.Start = models.Day(raw[0].Date)
	series.End = models.Day(raw[len(raw)-1].Date)
	if err := checkConsecutive(stationID, raw); err != nil {
		return nil, err
	}

	parsed := make([]models.Observation, len(raw))
	for i, o := range raw {
		obs, err := models.ParseToken(o.Token)
		if err != nil {
			return nil, &models.DataFormatError{
				StationID: stationID,
				Date:      models.Day(o.Date),
				Token:     o.Token,
				Reason:    err.Error(),
			}
		}
		parsed[i] = obs
	}

	if kind == models.KindTemperature {
		values, err := r.resolveTemperature(stationID, raw, parsed, &series.Summary)
		if err != nil {
			return nil, err
		}
		series.Values = values
		return series, nil
	}

	series.Values = r.resolvePrecipitation(stationID, raw, parsed, &series.Summary)
	return series, nil
}

func (r *Resolver) resolveTemperature(stationID string, raw []models.RawObservation, parsed []models.Observation, sum *models.ResolutionSummary) ([]float64, error) {
	out := make([]float64, len(parsed))
	for i, obs := range parsed {
		switch obs.Kind {
		case models.ObservationNumber:
			out[i] = obs.Value
			sum.Numbers++
		case models.ObservationMissing:
			out[i] = r.missingValue
			sum.Missing++
		default:
			return nil, &models.DataFormatError{
				StationID: stationID,
				Date:      models.Day(raw[i].Date),
				Token:     raw[i].Token,
				Reason:    fmt.Sprintf("%s token is not valid for a temperature element", obs.Kind),
			}
		}
	}
	return out, nil
}

func (r *Resolver) resolvePrecipitation(stationID string, raw []models.RawObservation, parsed []models.Observation, sum *models.ResolutionSummary) []float64 {
	out := make([]float64, len(parsed))
	for i, obs := range parsed {
		switch obs.Kind {
		case models.ObservationNumber:
			out[i] = obs.Value
			sum.Numbers++
		case models.ObservationMissing:
			out[i] = r.missingValue
			sum.Missing++
		case models.ObservationTrace:
			out[i] = r.traceValue
			sum.Traces++
		}
	}

	runs := SplitRuns(parsed, r.horizon)
	consumed := make([]bool, len(parsed))
	for _, run := range runs {
		if parsed[run.End].TraceTotal {
			run.Total = r.traceValue
		}
		r.distribution.Distribute(run, out)
		for k := run.Start; k <= run.End; k++ {
			consumed[k] = true
		}
		sum.Runs++
		sum.RunDays += run.Len()
		r.record(AuditEvent{
			StationID: stationID,
			Kind:      AuditAccumulationRun,
			Date:      models.Day(raw[run.Start].Date),
			EndDate:   models.Day(raw[run.End].Date),
			Token:     raw[run.End].Token,
			Days:      run.Len(),
			Value:     run.Total,
		})
	}

	for i, obs := range parsed {
		if consumed[i] {
			continue
		}
		switch obs.Kind {
		case models.ObservationAccumulationEnd:
			v := obs.Value
			if obs.TraceTotal {
				v = r.traceValue
			}
			out[i] = v
			sum.StandaloneEnds++
			r.record(AuditEvent{
				StationID: stationID,
				Kind:      AuditStandaloneEnd,
				Date:      models.Day(raw[i].Date),
				Token:     raw[i].Token,
				Days:      1,
				Value:     v,
			})
		case models.ObservationAccumulationStart:
			out[i] = 0
			sum.StandaloneStarts++
			r.record(AuditEvent{
				StationID: stationID,
				Kind:      AuditStandaloneStart,
				Date:      models.Day(raw[i].Date),
				Token:     raw[i].Token,
				Days:      1,
			})
		}
	}
	return out
}

func (r *Resolver) record(event AuditEvent) {
	if r.audit != nil {
		r.audit.Record(event)
	}
}

// checkConsecutive requires one token per calendar day in ascending order
func checkConsecutive(stationID string, raw []models.RawObservation) error {
	start := models.Day(raw[0].Date)
	end := models.Day(raw[len(raw)-1].Date)
	expected := models.DaysInclusive(start, end)
	if expected != len(raw) {
		return &models.AlignmentError{
			StationID: stationID,
			Start:     start,
			End:       end,
			Expected:  expected,
			Actual:    len(raw),
		}
	}
	for i, o := range raw {
		if models.DayOffset(start, o.Date) != i {
			return &models.AlignmentError{
				StationID: stationID,
				Start:     start,
				End:       end,
				Expected:  expected,
				Actual:    len(raw),
			}
		}
	}
	return nil
}
