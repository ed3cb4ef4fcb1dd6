package status

import "strings"

// State is the observable pipeline state.
type State string

const (
	StateWaiting    State = "waiting"
	StateConverting State = "converting"
	StateUploading  State = "uploading"
	StateGenerating State = "generating"
	StateSuccess    State = "success"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

var allStates = []State{
	StateWaiting,
	StateConverting,
	StateUploading,
	StateGenerating,
	StateSuccess,
	StateError,
	StateCancelled,
}

// happyPath maps each in-progress state to the only state it may advance to.
var happyPath = map[State]State{
	StateWaiting:    StateConverting,
	StateConverting: StateUploading,
	StateUploading:  StateGenerating,
	StateGenerating: StateSuccess,
}

var labels = map[State]string{
	StateWaiting:    "Load video",
	StateConverting: "Converting...",
	StateUploading:  "Uploading...",
	StateGenerating: "Transcribing...",
	StateSuccess:    "Success!",
	StateError:      "Failed",
	StateCancelled:  "Cancelled",
}

var labelsPT = map[State]string{
	StateWaiting:    "Carregar vídeo",
	StateConverting: "Convertendo...",
	StateUploading:  "Carregando...",
	StateGenerating: "Transcrevendo...",
	StateSuccess:    "Sucesso!",
	StateError:      "Falhou",
	StateCancelled:  "Cancelado",
}

// ParseState converts a string into a State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStates {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// AllStates returns every state in display order.
func AllStates() []State {
	return append([]State(nil), allStates...)
}

// IsActive reports whether a run is in flight in this state.
func (s State) IsActive() bool {
	return s == StateConverting || s == StateUploading || s == StateGenerating
}

// IsTerminal reports whether the run has finished, successfully or not.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateError || s == StateCancelled
}

// Label returns the button text for s.
func Label(s State) string {
	if label, ok := labels[s]; ok {
		return label
	}
	return string(s)
}

// LabelPT returns the Portuguese button text for s.
func LabelPT(s State) string {
	if label, ok := labelsPT[s]; ok {
		return label
	}
	return string(s)
}
