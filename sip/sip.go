package sip

import (
	"regexp"

	uuid "github.com/satori/go.uuid"
)

type RequestMethod string

func (r RequestMethod) String() string { return string(r) }

// method names are defined here as constants for convenience.
const (
	INVITE    RequestMethod = "INVITE"
	ACK       RequestMethod = "ACK"
	CANCEL    RequestMethod = "CANCEL"
	BYE       RequestMethod = "BYE"
	REGISTER  RequestMethod = "REGISTER"
	OPTIONS   RequestMethod = "OPTIONS"
	SUBSCRIBE RequestMethod = "SUBSCRIBE"
	NOTIFY    RequestMethod = "NOTIFY"
	REFER     RequestMethod = "REFER"
	INFO      RequestMethod = "INFO"
	MESSAGE   RequestMethod = "MESSAGE"
	PRACK     RequestMethod = "PRACK"
	UPDATE    RequestMethod = "UPDATE"
	PUBLISH   RequestMethod = "PUBLISH"
)

// Start line grammar. A datagram whose first line matches neither is not SIP.
var (
	rxRequestLine = regexp.MustCompile(`^([^ ]*) sip:([^ ]*) SIP/2\.0`)
	rxStatusLine  = regexp.MustCompile(`^SIP/2\.0 ([^ ]*)`)
)

type MessageID string

func NextMessageID() MessageID {
	return MessageID(uuid.Must(uuid.NewV4()).String())
}
