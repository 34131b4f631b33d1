package filter

// Phase is one named point in the request/response lifecycle at which
// filters are invoked. The order is fixed; Done occurs both after the
// request side and as the terminal phase.
type Phase int

const (
	PhaseRequestHeaders Phase = iota
	PhaseRequestBody
	PhaseRequestTrailers
	PhaseResponseHeaders
	PhaseResponseBody
	PhaseResponseTrailers
	PhaseDone
)

var phaseNames = map[Phase]string{
	PhaseRequestHeaders:   "onRequestHeaders",
	PhaseRequestBody:      "onRequestBody",
	PhaseRequestTrailers:  "onRequestTrailers",
	PhaseResponseHeaders:  "onResponseHeaders",
	PhaseResponseBody:     "onResponseBody",
	PhaseResponseTrailers: "onResponseTrailers",
	PhaseDone:             "onDone",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "onUnknown"
}
