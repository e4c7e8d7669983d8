package dispatch

import "trading-core/internal/audit"

// Command is one inbound request, already parsed into typed fields. Amount
// carries a decimal string that handlers parse into money.Scalar — kept as
// a string here so a malformed wire value surfaces as a ValidationError in
// the handler, not a panic in the transport layer.
type Command struct {
	UserID string
	Type   audit.CommandType
	Symbol string
	Amount string // dollars for BUY/ADD/SET_BUY_AMOUNT, shares for SELL/SET_SELL_AMOUNT
	Filename string // DUMPLOG target filename, if any
}

// Result is the outcome of one handled Command.
type Result struct {
	OK      bool
	Message string
	Fields  map[string]string
}

func ok(msg string, fields map[string]string) Result {
	return Result{OK: true, Message: msg, Fields: fields}
}

func fail(err error) Result {
	return Result{OK: false, Message: err.Error()}
}
