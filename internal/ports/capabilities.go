package ports

// Capabilities declares which optional Transport operations a bound
// transport implements. Every field defaults to false for a
// zero-valued Capabilities, so a transport that only implements the
// mandatory GetReceiver can return an empty struct.
//
// This is the static alternative to reflective probing: the teacher
// codebase's capability model (pkg/transport's compile-time interface
// assertions) is expressed at the value level here because optionality
// is per-operation rather than per-type.
type Capabilities struct {
	Connect            bool
	Disconnect         bool
	SendEvent          bool
	SendEventBatch     bool
	Settlement         bool // covers Complete, Reject and Abandon together
	UpdateCredential   bool
	SetOptions         bool
	SendMethodResponse bool
}

// CapabilityProbe answers "does the bound transport implement X" for the
// session state machine and the controller facade, without either of
// them needing to know about the Transport type directly.
type CapabilityProbe struct {
	caps Capabilities
}

// NewCapabilityProbe snapshots a transport's declared capabilities.
func NewCapabilityProbe(t Transport) CapabilityProbe {
	return CapabilityProbe{caps: t.Capabilities()}
}

func (p CapabilityProbe) SupportsConnect() bool            { return p.caps.Connect }
func (p CapabilityProbe) SupportsDisconnect() bool         { return p.caps.Disconnect }
func (p CapabilityProbe) SupportsSendEvent() bool          { return p.caps.SendEvent }
func (p CapabilityProbe) SupportsSendEventBatch() bool     { return p.caps.SendEventBatch }
func (p CapabilityProbe) SupportsSettlement() bool         { return p.caps.Settlement }
func (p CapabilityProbe) SupportsUpdateCredential() bool   { return p.caps.UpdateCredential }
func (p CapabilityProbe) SupportsSetOptions() bool         { return p.caps.SetOptions }
func (p CapabilityProbe) SupportsSendMethodResponse() bool { return p.caps.SendMethodResponse }
