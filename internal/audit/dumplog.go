package audit

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// xmlEntry mirrors one <userCommand>/<quoteServer>/... element. Field order
// here fixes the element order in the output; all six variants share it,
// with irrelevant fields simply omitted (encoding/xml's omitempty on a
// zero-value string/int64 field drops the element entirely, matching the
// original's practice of only writing keys present in the log dict).
type xmlEntry struct {
	XMLName         xml.Name
	Timestamp       int64  `xml:"timestamp"`
	Server          string `xml:"server"`
	TransactionNum  int64  `xml:"transactionNum"`
	Command         string `xml:"command,omitempty"`
	Username        string `xml:"username,omitempty"`
	StockSymbol     string `xml:"stockSymbol,omitempty"`
	Funds           string `xml:"funds,omitempty"`
	Price           string `xml:"price,omitempty"`
	QuoteServerTime int64  `xml:"quoteServerTime,omitempty"`
	Cryptokey       string `xml:"cryptokey,omitempty"`
	Action          string `xml:"action,omitempty"`
	Filename        string `xml:"filename,omitempty"`
	ErrorMessage    string `xml:"errorMessage,omitempty"`
	DebugMessage    string `xml:"debugMessage,omitempty"`
}

type xmlLog struct {
	XMLName xml.Name   `xml:"log"`
	Entries []xmlEntry `xml:",any"`
}

// MarshalXML renders events as the fixed six-variant dumplog schema: a
// root <log> element, tab-indented, UTF-8, one child per event named after
// its LogType.
func MarshalXML(evs []Event) ([]byte, error) {
	entries := make([]xmlEntry, 0, len(evs))
	for _, e := range evs {
		entries = append(entries, xmlEntry{
			XMLName:         xml.Name{Local: string(e.Type)},
			Timestamp:       e.TimestampMs,
			Server:          e.Server,
			TransactionNum:  e.TransactionNum,
			Command:         string(e.Command),
			Username:        e.Username,
			StockSymbol:     e.StockSymbol,
			Funds:           e.Funds,
			Price:           e.Price,
			QuoteServerTime: e.QuoteServerTime,
			Cryptokey:       e.Cryptokey,
			Action:          e.Action,
			Filename:        e.Filename,
			ErrorMessage:    e.ErrorMessage,
			DebugMessage:    e.DebugMessage,
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := enc.Encode(xmlLog{Entries: entries}); err != nil {
		return nil, fmt.Errorf("audit: encode xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
