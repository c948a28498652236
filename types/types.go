package types

// ---- Deployment status (retained on the bus) ----

// Phase names the coarse deployment state published on {"minion","status"}.
type Phase string

const (
	PhaseStandby        Phase = "standby"
	PhaseInitialSamples Phase = "initial_sampling"
	PhaseTimeLapse      Phase = "time_lapse"
	PhaseFinalSamples   Phase = "final_sampling"
	PhaseRecovery       Phase = "recovery"
	PhaseAborted        Phase = "aborted"
	PhaseStopped        Phase = "stopped"
)

type Status struct {
	Phase Phase  `json:"phase"`
	TS    int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"`
}

// ---- Light ring ----

// RingTrip is published when the safety controller force-disables the ring.
type RingTrip struct {
	OnMs int64 `json:"on_ms"` // cumulative on time at trip
	TS   int64 `json:"ts_ms"`
}

// ---- Samples ----

// TPSample is one temperature/pressure reading. Failed reads carry NaN so a
// flaky sensor never stalls the sampling loop.
type TPSample struct {
	Timestamp string  // UTC, 20060102_150405
	TempC     float64 // TSYS01
	Depth     float64 // derived from pressure, metres-ish (see sampler)
	AuxTempC  float64 // pressure sensor's internal temperature
}

// O2Sample is one raw OxyBase reading. Data is the optode's own line format;
// it is recorded verbatim and decoded ashore.
type O2Sample struct {
	Timestamp string
	Data      string
}
