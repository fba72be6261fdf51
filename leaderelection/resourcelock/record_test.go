package resourcelock

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	acquired := time.Date(2015, 10, 21, 4, 29, 0, 0, time.UTC)
	for _, r := range []LeaderElectionRecord{
		{
			HolderIdentity:       "1337",
			LeaseDurationSeconds: 15,
			AcquireTime:          acquired,
			RenewTime:            acquired,
		},
		{
			HolderIdentity:       "node-b",
			LeaseDurationSeconds: 10,
			AcquireTime:          acquired,
			RenewTime:            acquired.Add(1500 * time.Millisecond),
			LeaderTransitions:    7,
		},
		{
			HolderIdentity:       "no-times",
			LeaseDurationSeconds: 1,
		},
	} {
		encoded, err := EncodeRecord(r)
		require.NoError(t, err)

		decoded, err := DecodeRecord(encoded)
		require.NoError(t, err)
		assert.Equal(t, r, *decoded)
	}
}

func TestDecodeRecordLegacyForm(t *testing.T) {
	ler, err := DecodeRecord(`{"holderIdentity":"1337","leaseDuration":15,"acquireTime":1445401740,"renewTime":1445412480}`)
	require.NoError(t, err)

	assert.Equal(t, "1337", ler.HolderIdentity)
	assert.Equal(t, 15, ler.LeaseDurationSeconds)
	assert.Equal(t, 15*time.Second, ler.LeaseDuration())
	assert.Equal(t, time.Date(2015, 10, 21, 4, 29, 0, 0, time.UTC), ler.AcquireTime)
	assert.Equal(t, 0, ler.LeaderTransitions)
}

func TestDecodeRecordFieldOrderIndependent(t *testing.T) {
	ler, err := DecodeRecord(`{"leaderTransitions":2,"renewTime":"2024-01-01T00:00:10Z","holderIdentity":"a","leaseDurationSeconds":5,"acquireTime":"2024-01-01T00:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, LeaderElectionRecord{
		HolderIdentity:       "a",
		LeaseDurationSeconds: 5,
		AcquireTime:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RenewTime:            time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC),
		LeaderTransitions:    2,
	}, *ler)
}

func TestDecodeRecordMalformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`{`,
		`not json`,
		`{"leaseDurationSeconds":10}`,
		`{"holderIdentity":""}`,
		`{"holderIdentity":"a","renewTime":"yesterday"}`,
		`{"holderIdentity":"a","acquireTime":true}`,
	} {
		_, err := DecodeRecord(raw)
		assert.True(t, errors.Is(err, ErrMalformed), "%q: got %v", raw, err)
	}
}

func TestRecordExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := LeaderElectionRecord{HolderIdentity: "a", LeaseDurationSeconds: 10, RenewTime: now.Add(-15 * time.Second)}
	assert.True(t, r.Expired(now))

	r.RenewTime = now.Add(-9 * time.Second)
	assert.False(t, r.Expired(now))

	r.RenewTime = now.Add(-10 * time.Second)
	assert.True(t, r.Expired(now))
}
