package sip

import (
	"regexp"
	"strconv"
)

// Header matching is case-sensitive on the canonical casing common user
// agents emit, plus the compact forms. Additional case variants are not
// accepted.
var (
	rxFrom     = regexp.MustCompile(`^From:`)
	rxFromc    = regexp.MustCompile(`^f:`)
	rxTo       = regexp.MustCompile(`^To:`)
	rxToc      = regexp.MustCompile(`^t:`)
	rxVia      = regexp.MustCompile(`^Via:`)
	rxViac     = regexp.MustCompile(`^v:`)
	rxContact  = regexp.MustCompile(`^Contact:`)
	rxContactc = regexp.MustCompile(`^m:`)
	rxRoute    = regexp.MustCompile(`^Route:`)
	rxCLen     = regexp.MustCompile(`^Content-Length:`)
	rxCLenc    = regexp.MustCompile(`^l:`)

	rxURI            = regexp.MustCompile(`sip:([^@]*)@([^;>$]*)`)
	rxAddr           = regexp.MustCompile(`sip:([^ ;>$]*)`)
	rxTag            = regexp.MustCompile(`;tag`)
	rxBranch         = regexp.MustCompile(`;branch=([^;]*)`)
	rxRport          = regexp.MustCompile(`;rport$|;rport;`)
	rxContactExpires = regexp.MustCompile(`expires=([^;$]*)`)
	rxExpires        = regexp.MustCompile(`^Expires: (.*)$`)
)

func IsFrom(line string) bool    { return rxFrom.MatchString(line) || rxFromc.MatchString(line) }
func IsTo(line string) bool      { return rxTo.MatchString(line) || rxToc.MatchString(line) }
func IsVia(line string) bool     { return rxVia.MatchString(line) || rxViac.MatchString(line) }
func IsContact(line string) bool { return rxContact.MatchString(line) || rxContactc.MatchString(line) }
func IsRoute(line string) bool   { return rxRoute.MatchString(line) }

// AOR extracts the user@host pair of the first sip:USER@HOST URI in line.
func AOR(line string) (string, bool) {
	md := rxURI.FindStringSubmatch(line)
	if md == nil {
		return "", false
	}
	return md[1] + "@" + md[2], true
}

// Origin returns the address-of-record of the From header.
// Only the first From (or compact f) line is consulted.
func (m *Message) Origin() (string, bool) {
	for _, line := range m.Lines {
		if IsFrom(line) {
			return AOR(line)
		}
	}
	return "", false
}

// Destination returns the address-of-record of the To header.
// Only the first To (or compact t) line is consulted.
func (m *Message) Destination() (string, bool) {
	for _, line := range m.Lines {
		if IsTo(line) {
			return AOR(line)
		}
	}
	return "", false
}

// RegisterInfo carries the registration fields of a REGISTER request.
// ContactExpires and HeaderExpires stay raw so absence is distinguishable
// from zero.
type RegisterInfo struct {
	AOR            string
	Contact        string
	ContactExpires string
	HeaderExpires  string
}

// RegisterInfo scans every header line: To gives the AOR, Contact the
// registered host (falling back to sip:HOST when there is no user part)
// and its expires parameter, Expires the header value. Later lines win.
func (m *Message) RegisterInfo() RegisterInfo {
	var ri RegisterInfo
	for _, line := range m.Lines {
		if IsTo(line) {
			if aor, ok := AOR(line); ok {
				ri.AOR = aor
			}
		}
		if IsContact(line) {
			if md := rxURI.FindStringSubmatch(line); md != nil {
				ri.Contact = md[2]
			} else if md := rxAddr.FindStringSubmatch(line); md != nil {
				ri.Contact = md[1]
			}
			if md := rxContactExpires.FindStringSubmatch(line); md != nil {
				ri.ContactExpires = md[1]
			}
		}
		if md := rxExpires.FindStringSubmatch(line); md != nil {
			ri.HeaderExpires = md[1]
		}
	}
	return ri
}

// Expires resolves the registration lifetime: the Contact expires parameter
// wins over the top-level Expires header. Missing both means zero.
func (ri RegisterInfo) Expires() (int, error) {
	if ri.ContactExpires != "" {
		return strconv.Atoi(ri.ContactExpires)
	}
	if ri.HeaderExpires != "" {
		return strconv.Atoi(ri.HeaderExpires)
	}
	return 0, nil
}

// ExtractBranch returns the value of the ;branch= parameter of a Via line.
func ExtractBranch(line string) (string, bool) {
	md := rxBranch.FindStringSubmatch(line)
	if md == nil {
		return "", false
	}
	return md[1], true
}

// HasRport reports whether ;rport appears bare, with no value, in a Via line.
func HasRport(line string) bool {
	return rxRport.MatchString(line)
}

// HasTag reports whether a To line already carries a ;tag parameter.
func HasTag(line string) bool {
	return rxTag.MatchString(line)
}

// IsContentLength reports a Content-Length (or compact l) line and which
// form it uses.
func IsContentLength(line string) (long, compact bool) {
	return rxCLen.MatchString(line), rxCLenc.MatchString(line)
}
