// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package capture

import (
	"net/netip"
	"testing"

	"github.com/google/nftables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowbridge/internal/testutil"
)

func hasSteeringTable(t *testing.T) bool {
	t.Helper()
	conn, err := nftables.New()
	require.NoError(t, err)
	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyIPv4)
	require.NoError(t, err)
	for _, tbl := range tables {
		if tbl.Name == SteeringTable {
			return true
		}
	}
	return false
}

func TestSteeringLiveRuleset(t *testing.T) {
	testutil.RequireVM(t)

	s, err := NewSteering(0, ModeQueue, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Remove() })

	require.NoError(t, s.Apply(netip.MustParseAddr("192.0.2.10")))
	assert.True(t, hasSteeringTable(t))

	require.NoError(t, s.Apply(netip.MustParseAddr("192.0.2.11")))
	assert.Equal(t, "192.0.2.11", s.Target().String())

	require.NoError(t, s.Remove())
	assert.False(t, hasSteeringTable(t))
}
