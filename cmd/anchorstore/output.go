package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfsorg/anchorstore/ledger"
)

func (a *app) writeJSON(payload any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func (a *app) writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(a.out, format, args...)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatEntryLine(e ledger.Entry) string {
	line := fmt.Sprintf("%s  %-9s  attempts=%d", e.FileHash, e.State, e.AttemptCount)
	if e.TxID != "" {
		line += "  tx=" + e.TxID
	}
	if e.LastError != 0 {
		line += "  last_error=" + e.LastError.String()
	}
	return line
}
