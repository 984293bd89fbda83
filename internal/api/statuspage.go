// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bufio"
	"fmt"
	"io"
	"net/http"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/flow"
)

const flowRowFormat = "%-15s %-15s %-8s %-9s %-8s %-12s %-12s\n"

// WriteStatusText renders the bridge status and a fixed-width flow table.
// The caller passes copies; nothing here touches the flow table.
func WriteStatusText(w io.Writer, st bridge.Status, flows []flow.Snapshot) error {
	bw := bufio.NewWriter(w)

	active := "No"
	if st.Active {
		active = "Yes"
	}

	fmt.Fprintf(bw, "Flowbridge Status\n")
	fmt.Fprintf(bw, "=================\n")
	fmt.Fprintf(bw, "Version: %s\n", st.Version)
	fmt.Fprintf(bw, "State: %s\n", st.State)
	fmt.Fprintf(bw, "Bridge Active: %s\n", active)
	fmt.Fprintf(bw, "Target IP: %s\n", st.TargetAddr)
	fmt.Fprintf(bw, "Target Port: %d\n", st.TargetPort)
	fmt.Fprintf(bw, "Active Connections: %d/%d\n", st.ConnectionCount, st.MaxConnections)
	fmt.Fprintf(bw, "\n")

	fmt.Fprintf(bw, "Active Connections:\n")
	fmt.Fprintf(bw, flowRowFormat,
		"Source IP", "Dest IP", "Src Port", "Dest Port", "Protocol", "Bytes Sent", "Bytes Recv")
	fmt.Fprintf(bw, flowRowFormat,
		"---------", "-------", "--------", "---------", "--------", "----------", "----------")
	for _, f := range flows {
		fmt.Fprintf(bw, "%-15s %-15s %-8d %-9d %-8s %-12d %-12d\n",
			f.SrcAddr, f.DstAddr, f.SrcPort, f.DstPort, f.Protocol, f.BytesSent, f.BytesReceived)
	}

	return bw.Flush()
}

func (s *Server) handleStatusText(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.Status()
	flows := s.bridge.Flows()
	// The two reads take the table lock separately; the header counts the
	// rows actually printed.
	st.ConnectionCount = len(flows)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := WriteStatusText(w, st, flows); err != nil {
		s.logger.WithError(err).Debug("write status page")
	}
}
