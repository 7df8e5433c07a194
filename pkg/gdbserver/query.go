package gdbserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/epiphany-tools/erspd/pkg/osdata"
	"github.com/epiphany-tools/erspd/pkg/rsp"
)

func (s *Session) handleQuery(payload []byte) []byte {
	body := string(payload[1:])
	switch {
	case body == "C":
		return []byte(fmt.Sprintf("QC%x", s.threadForCore(s.execCore)))
	case body == "fThreadInfo":
		return []byte(fmt.Sprintf("m%x", s.threadForCore(s.execCore)))
	case body == "sThreadInfo":
		return []byte("l")
	case strings.HasPrefix(body, "Supported"):
		return []byte(fmt.Sprintf("PacketSize=%x;qXfer:osdata:read+", packetCapacity))
	case body == "Offsets":
		return []byte("Text=0;Data=0;Bss=0")
	case body == "Attached":
		return []byte("1")
	case body == "TStatus":
		return []byte{}
	case strings.HasPrefix(body, "Symbol:"):
		return []byte("OK")
	case strings.HasPrefix(body, "ThreadExtraInfo,"):
		return s.handleThreadExtraInfo(body)
	case strings.HasPrefix(body, "Rcmd,"):
		return s.handleRcmd(body)
	case strings.HasPrefix(body, "Xfer:osdata:read:"):
		return s.handleOsdataXfer(body)
	default:
		return []byte{}
	}
}

func (s *Session) handleSet(payload []byte) []byte {
	body := string(payload[1:])
	switch {
	case body == "TStart" || body == "TStop" || body == "Tinit":
		return []byte("OK")
	case strings.HasPrefix(body, "TDP") || strings.HasPrefix(body, "Frame") || strings.HasPrefix(body, "Tro"):
		return []byte("OK")
	case strings.HasPrefix(body, "PassSignals:"):
		return []byte{}
	default:
		return []byte{}
	}
}

// handleThreadExtraInfo returns a constant descriptive string, matching
// the original server's behavior of not distinguishing cores in this
// field.
func (s *Session) handleThreadExtraInfo(body string) []byte {
	const desc = "Epiphany core"
	return rsp.EncodeHex([]byte(desc))
}

func (s *Session) handleRcmd(body string) []byte {
	hexCmd := strings.TrimPrefix(body, "Rcmd,")
	raw, err := rsp.DecodeHex([]byte(hexCmd))
	if err != nil {
		return errReply(errBusFault)
	}
	out, err := s.monitors.Dispatch(s, string(raw))
	if err != nil {
		return []byte("E01")
	}
	if out == "" {
		return []byte("OK")
	}
	return rsp.EncodeHex([]byte(out))
}

// handleOsdataXfer implements qXfer:osdata:read:<annex>:<offset>,<length>.
func (s *Session) handleOsdataXfer(body string) []byte {
	rest := strings.TrimPrefix(body, "Xfer:osdata:read:")
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return []byte("E01")
	}
	annex := rest[:colon]
	if annex == "" {
		return []byte("l")
	}
	offLen := rest[colon+1:]
	comma := strings.IndexByte(offLen, ',')
	if comma < 0 {
		return []byte("E01")
	}
	offset, err1 := strconv.ParseUint(offLen[:comma], 16, 32)
	length, err2 := strconv.ParseUint(offLen[comma+1:], 16, 32)
	if err1 != nil || err2 != nil {
		return []byte("E01")
	}

	switch annex {
	case osdata.AnnexProcess, osdata.AnnexLoad, osdata.AnnexTraffic:
		doc, err := s.osdata.Render(annex, uint32(offset))
		if err != nil {
			return []byte("E01")
		}
		return []byte(osdata.Window(doc, uint32(offset), uint32(length)))
	default:
		return []byte("l")
	}
}
