// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package capture

import (
	"net/netip"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// SteeringTable is the nftables table owned by the bridge.
const SteeringTable = "flowbridge"

// IPv4 header offsets of the source and destination addresses.
const (
	offsetSaddr = 12
	offsetDaddr = 16
)

// nftConn is the subset of *nftables.Conn used for steering.
type nftConn interface {
	ListTablesOfFamily(family nftables.TableFamily) ([]*nftables.Table, error)
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)
	AddChain(c *nftables.Chain) *nftables.Chain
	AddRule(r *nftables.Rule) *nftables.Rule
	Flush() error
}

// Steering installs the rules that send traffic to or from the target
// address into the bridge's queue or log group. The queue uses the bypass
// flag, so packets pass untouched when no reader is attached.
type Steering struct {
	conn   nftConn
	queue  uint16
	mode   Mode
	logger *logging.Logger

	mu      sync.Mutex
	current netip.Addr
}

// NewSteering connects to nftables over netlink.
func NewSteering(queue uint16, mode Mode, logger *logging.Logger) (*Steering, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "connect to nftables")
	}
	return newSteeringWithConn(conn, queue, mode, logger), nil
}

func newSteeringWithConn(conn nftConn, queue uint16, mode Mode, logger *logging.Logger) *Steering {
	if logger == nil {
		logger = logging.Default()
	}
	if mode == "" {
		mode = ModeQueue
	}
	return &Steering{
		conn:   conn,
		queue:  queue,
		mode:   mode,
		logger: logger.WithComponent("steering"),
	}
}

// Target returns the address the rules currently match.
func (s *Steering) Target() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Apply replaces the ruleset so it matches target. The old table is deleted
// and the new one added in a single batch.
func (s *Steering) Apply(target netip.Addr) error {
	if !target.Is4() {
		return errors.Attr(errors.New(errors.KindValidation, "steering needs an IPv4 target"), "target", target.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteExisting(); err != nil {
		return err
	}

	table := s.conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   SteeringTable,
	})

	chains := []*nftables.Chain{
		{
			Name:     "prerouting",
			Table:    table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookPrerouting,
			Priority: nftables.ChainPriorityMangle,
		},
		{
			Name:     "output",
			Table:    table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookOutput,
			Priority: nftables.ChainPriorityMangle,
		},
	}

	addr := target.As4()
	for _, c := range chains {
		chain := s.conn.AddChain(c)
		for _, off := range []uint32{offsetSaddr, offsetDaddr} {
			s.conn.AddRule(&nftables.Rule{
				Table: table,
				Chain: chain,
				Exprs: steerRule(off, addr[:], s.verdict()),
			})
		}
	}

	if err := s.conn.Flush(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "apply steering rules")
	}

	s.current = target
	s.logger.Info("steering rules installed", "target", target, "mode", s.mode, "queue", s.queue)
	return nil
}

// Remove deletes the bridge's table if present.
func (s *Steering) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteExisting(); err != nil {
		return err
	}
	if err := s.conn.Flush(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "remove steering rules")
	}
	s.current = netip.Addr{}
	s.logger.Info("steering rules removed")
	return nil
}

// deleteExisting queues deletion of the table when it exists. Deleting a
// missing table would fail the whole batch.
func (s *Steering) deleteExisting() error {
	tables, err := s.conn.ListTablesOfFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "list nftables tables")
	}
	for _, t := range tables {
		if t.Name == SteeringTable {
			s.conn.DelTable(t)
		}
	}
	return nil
}

// verdict is the final expression of every rule: queue, or log to the
// nflog group and let the packet continue.
func (s *Steering) verdict() expr.Any {
	if s.mode == ModeLog {
		return &expr.Log{
			Key:   1 << unix.NFTA_LOG_GROUP,
			Group: s.queue,
		}
	}
	return &expr.Queue{
		Num:  s.queue,
		Flag: expr.QueueFlagBypass,
	}
}

// steerRule matches a 4-byte address at offset in the network header and
// hands the packet to verdict.
func steerRule(offset uint32, addr []byte, verdict expr.Any) []expr.Any {
	return []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          4,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     append([]byte(nil), addr...),
		},
		&expr.Counter{},
		verdict,
	}
}
