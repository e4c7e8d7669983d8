package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	// EventAuditLogged fires once per audit.Event appended to the log,
	// carrying the audit.Event itself. The websocket feed subscribes to
	// this to stream the live audit trail to observers.
	EventAuditLogged Event = "audit.logged"
	// EventTriggerFired fires when the Trigger Loop commits a BUY or SELL
	// from an armed trigger, carrying a trigger.FireResult.
	EventTriggerFired Event = "trigger.fired"
	// EventQuote is the topic for resolved quotes (a quote.Quote payload).
	// The Quote Client has no bus and nothing publishes on this topic.
	EventQuote Event = "quote.resolved"
)
