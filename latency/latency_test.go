package latency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/latency"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
)

func dialFixed(delays map[string]time.Duration, fail map[string]bool) func(context.Context, string) error {
	return func(ctx context.Context, address string) error {
		if fail[address] {
			return errors.New("dial refused")
		}
		if d, ok := delays[address]; ok {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func TestGenerateAndVerifyProofRoundTrip(t *testing.T) {
	m := latency.NewMonitorForTest(dialFixed(map[string]time.Duration{
		"peer-a": 5 * time.Millisecond,
		"peer-b": 10 * time.Millisecond,
		"peer-c": 15 * time.Millisecond,
	}, nil))
	m.AddPeer("p1", "peer-a")
	m.AddPeer("p2", "peer-b")
	m.AddPeer("p3", "peer-c")

	now := time.Now()
	proof, err := m.GenerateProof(now)
	require.NoError(t, err)
	require.Len(t, proof.PeerIDs, 3)
	require.NotZero(t, proof.LocationProof)

	require.NoError(t, latency.VerifyProof(proof, now))
}

func TestGenerateProofFailsWithNoPeers(t *testing.T) {
	m := latency.NewMonitorForTest(dialFixed(nil, nil))
	_, err := m.GenerateProof(time.Now())
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, perr.NoValidMeasurements, kind)
}

func TestMeasurePeerLatencyClampsAndPenalizes(t *testing.T) {
	m := latency.NewMonitorForTest(dialFixed(nil, map[string]bool{"bad-addr": true}))
	m.AddPeer("p1", "bad-addr")

	sample, err := m.MeasurePeerLatency("p1")
	require.NoError(t, err)
	require.InDelta(t, 1000.0, sample, 0.1)
}

func TestVerifyProofRejectsTooFewPeers(t *testing.T) {
	m := latency.NewMonitorForTest(dialFixed(map[string]time.Duration{"peer-a": time.Millisecond}, nil))
	m.AddPeer("p1", "peer-a")

	now := time.Now()
	proof, err := m.GenerateProof(now)
	require.NoError(t, err)

	err = latency.VerifyProof(proof, now)
	require.Error(t, err)
}

func TestVerifyProofRejectsStaleMeasurement(t *testing.T) {
	m := latency.NewMonitorForTest(dialFixed(map[string]time.Duration{
		"peer-a": time.Millisecond, "peer-b": time.Millisecond, "peer-c": time.Millisecond,
	}, nil))
	m.AddPeer("p1", "peer-a")
	m.AddPeer("p2", "peer-b")
	m.AddPeer("p3", "peer-c")

	now := time.Now()
	proof, err := m.GenerateProof(now)
	require.NoError(t, err)

	err = latency.VerifyProof(proof, now.Add(time.Hour))
	require.Error(t, err)
}

func TestRemovePeerExcludesFromProof(t *testing.T) {
	m := latency.NewMonitorForTest(dialFixed(map[string]time.Duration{
		"peer-a": time.Millisecond, "peer-b": time.Millisecond,
	}, nil))
	m.AddPeer("p1", "peer-a")
	m.AddPeer("p2", "peer-b")
	m.RemovePeer("p2")

	proof, err := m.GenerateProof(time.Now())
	require.NoError(t, err)
	require.Len(t, proof.PeerIDs, 1)
	require.Equal(t, "p1", proof.PeerIDs[0])
}
