package proxy

import (
	"strconv"
	"strings"

	"github.com/okasova/siproxy/sip"
)

// AddTopVia walks the Via stack of a forwarded request. Each Via carrying
// a branch gets the proxy's own Via prepended with that branch suffixed by
// "m", and the client Via itself is annotated with the observed source:
// a bare ;rport token becomes received=<ip>;rport=<port>, otherwise
// ;received=<ip> is appended. Other headers pass through unchanged.
func AddTopVia(msg *sip.Message, topVia, srcIP string, srcPort int) {
	lines := make([]string, 0, len(msg.Lines)+1)
	for _, line := range msg.Lines {
		if !sip.IsVia(line) {
			lines = append(lines, line)
			continue
		}
		if branch, ok := sip.ExtractBranch(line); ok {
			lines = append(lines, topVia+";branch="+branch+"m")
		}
		if sip.HasRport(line) {
			lines = append(lines, annotateRport(line, srcIP, srcPort))
		} else {
			lines = append(lines, line+";received="+srcIP)
		}
	}
	msg.Lines = lines
}

// RemoveTopVia drops exactly the Via lines the proxy inserted itself,
// identified by the topVia prefix. All other Via lines keep their order.
// Used on responses travelling back toward the originator.
func RemoveTopVia(msg *sip.Message, topVia string) {
	lines := make([]string, 0, len(msg.Lines))
	for _, line := range msg.Lines {
		if sip.IsVia(line) && strings.HasPrefix(line, topVia) {
			continue
		}
		lines = append(lines, line)
	}
	msg.Lines = lines
}

// StripRoute drops every Route header so downstream elements see only the
// routing state established by the inserted Record-Route.
func StripRoute(msg *sip.Message) {
	lines := make([]string, 0, len(msg.Lines))
	for _, line := range msg.Lines {
		if sip.IsRoute(line) {
			continue
		}
		lines = append(lines, line)
	}
	msg.Lines = lines
}

func annotateRport(line, srcIP string, srcPort int) string {
	text := "received=" + srcIP + ";rport=" + strconv.Itoa(srcPort)
	return strings.Replace(line, "rport", text, 1)
}
