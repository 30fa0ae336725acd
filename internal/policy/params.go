package policy

// Params collects every tunable knob across the policy family. Each
// variant reads only the subset relevant to it; the rest are ignored.
// DefaultParams returns each policy's documented defaults. The policy
// constructors themselves replace a zero Alpha, Warmup, GlobalPrior,
// WindowSize, MinObservations or CorrBeta with that default, but use
// Margin as given.
type Params struct {
	// Shared by the relaxed policies (window, global-EWMA, attr-EWMA).
	Margin float64

	// Global-EWMA and attr-EWMA.
	Alpha       float64
	Warmup      int
	GlobalPrior float64 // global-EWMA's initial p̂, default 0.5

	// Window policy.
	WindowSize      int
	MinObservations int

	// Attribute-EWMA only.
	GateTopK  int
	CorrAware bool
	CorrBeta  float64
}

// DefaultParams returns the documented defaults for kind, useful as a
// base that callers (CLI flag parsing) overlay explicit overrides onto.
func DefaultParams(kind Kind) Params {
	switch kind {
	case KindWindow:
		return Params{
			WindowSize:      500,
			MinObservations: 80,
			Margin:          0.15,
		}
	case KindGlobalEWMA:
		return Params{
			Alpha:       0.03,
			Warmup:      100,
			Margin:      0.18,
			GlobalPrior: 0.5,
		}
	case KindAttrEWMA:
		return Params{
			Alpha:     0.04,
			Margin:    0.15,
			Warmup:    120,
			CorrAware: false,
			CorrBeta:  0.25,
			GateTopK:  0,
		}
	default:
		return Params{}
	}
}
