package proxy

import (
	"github.com/okasova/siproxy/registry"
	"github.com/okasova/siproxy/sip"
)

// RewriteRequestURI replaces the Request-URI target with the registered
// contact of its AOR, when one exists. The forwarding path never calls
// this: endpoints in the field accept the original URI, and rewriting it
// broke interop with some of them. Kept for deployments that need it.
func RewriteRequestURI(msg *sip.Message, reg *registry.Registry) {
	target := msg.RequestTarget()
	if target == "" {
		return
	}
	b, ok := reg.Lookup(target)
	if !ok {
		return
	}
	method := msg.Method()
	msg.Lines[0] = method.String() + " sip:" + b.Contact + " SIP/2.0"
}
