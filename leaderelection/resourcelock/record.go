package resourcelock

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

// LeaderElectionRecord is the logical state of an election: who holds it, since when and for how long.
type LeaderElectionRecord struct {
	// HolderIdentity is the identity of the current or last leader. It is never empty in a valid record.
	HolderIdentity       string
	LeaseDurationSeconds int
	// AcquireTime is preserved across renewals by the same holder.
	AcquireTime time.Time
	RenewTime   time.Time
	// LeaderTransitions counts holder changes over the lifetime of the record.
	LeaderTransitions int
}

// LeaseDuration returns LeaseDurationSeconds as a time.Duration.
func (r LeaderElectionRecord) LeaseDuration() time.Duration {
	return time.Duration(r.LeaseDurationSeconds) * time.Second
}

// Expired reports whether the holder failed to renew within its lease as seen at now.
func (r LeaderElectionRecord) Expired(now time.Time) bool {
	return now.Sub(r.RenewTime) >= r.LeaseDuration()
}

type encodedRecord struct {
	HolderIdentity       string `json:"holderIdentity"`
	LeaseDurationSeconds int    `json:"leaseDurationSeconds"`
	AcquireTime          string `json:"acquireTime"`
	RenewTime            string `json:"renewTime"`
	LeaderTransitions    int    `json:"leaderTransitions"`
}

// decodedRecord accepts both the current field names and the legacy `leaseDuration` one, with timestamps
// as RFC3339 strings or epoch seconds.
type decodedRecord struct {
	HolderIdentity       string          `json:"holderIdentity"`
	LeaseDurationSeconds *int            `json:"leaseDurationSeconds"`
	LeaseDuration        *int            `json:"leaseDuration"`
	AcquireTime          json.RawMessage `json:"acquireTime"`
	RenewTime            json.RawMessage `json:"renewTime"`
	LeaderTransitions    int             `json:"leaderTransitions"`
}

// EncodeRecord renders r in the JSON form stored under the leader annotation.
func EncodeRecord(r LeaderElectionRecord) (string, error) {
	data, err := json.Marshal(encodedRecord{
		HolderIdentity:       r.HolderIdentity,
		LeaseDurationSeconds: r.LeaseDurationSeconds,
		AcquireTime:          formatTime(r.AcquireTime),
		RenewTime:            formatTime(r.RenewTime),
		LeaderTransitions:    r.LeaderTransitions,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode leader election record")
	}
	return string(data), nil
}

// DecodeRecord parses an annotation value. It fails with ErrMalformed on bad JSON, bad timestamps or a
// missing holder identity.
func DecodeRecord(s string) (*LeaderElectionRecord, error) {
	var d decodedRecord
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%v", err)
	}
	if d.HolderIdentity == "" {
		return nil, errors.Wrap(ErrMalformed, "missing holderIdentity")
	}

	acquired, err := parseTime(d.AcquireTime)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "acquireTime: %v", err)
	}
	renewed, err := parseTime(d.RenewTime)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "renewTime: %v", err)
	}

	r := &LeaderElectionRecord{
		HolderIdentity:    d.HolderIdentity,
		AcquireTime:       acquired,
		RenewTime:         renewed,
		LeaderTransitions: d.LeaderTransitions,
	}
	switch {
	case d.LeaseDurationSeconds != nil:
		r.LeaseDurationSeconds = *d.LeaseDurationSeconds
	case d.LeaseDuration != nil:
		r.LeaseDurationSeconds = *d.LeaseDuration
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, err
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
}
