// Package exchange defines the exchange record type and the append-only
// log + in-memory dedup store described in spec §3 and §4.F.
package exchange

import (
	"time"

	"github.com/ijohanne/mercy/api/pkg/planner"
)

// Record is an immutable exchange detection, created only by the
// confirmation logic (pkg/confirm). Screenshots are owned by the record
// for the lifetime of the process.
type Record struct {
	Kingdom          uint32
	X                int
	Y                int
	FoundAt          time.Time
	Confirmed        bool
	ScanDurationSecs float64
	Screenshot       []byte // PNG bytes of the confirming viewport; nil for estimates without a confirming shot
}

// Key is the (kingdom, x, y) uniqueness key enforced by Store.
type Key struct {
	Kingdom uint32
	X, Y    int
}

func (r Record) Key() Key {
	return Key{Kingdom: r.Kingdom, X: r.X, Y: r.Y}
}

// LogLine is one line of the append-only exchange log (§4.F). Stable key
// order is not part of the contract, so this is a plain struct serialized
// with the standard library's encoding/json.
type LogLine struct {
	Timestamp        time.Time       `json:"timestamp"`
	Kingdom          uint32          `json:"kingdom"`
	X                int             `json:"x"`
	Y                int             `json:"y"`
	Confirmed        bool            `json:"confirmed"`
	Stored           bool            `json:"stored"`
	InitialScore     float32         `json:"initial_score"`
	CalibrationScore *float32        `json:"calibration_score"`
	ScanPattern      planner.Pattern `json:"scan_pattern"`
	ScanDurationSecs float64         `json:"scan_duration_secs"`
}
