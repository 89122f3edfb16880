package core

import "encoding/json"

// MessageType is the typed payload carried by an ExpiredCoresPackage (spec
// §4.6.3, §4.5). The proxy client/server bodies themselves are external
// collaborators (spec §1 scope note: "HTTP/TLS proxy front-ends ... are
// referenced only by interface"), so ClientRequest/ClientResponse here are
// opaque byte blobs; DnsResolveFailed and Gossip carry the fields
// RoutingService actually inspects.
type MessageType interface {
	messageTypeKind() string
}

// ClientRequestMessage carries opaque tokenized browser traffic bound for
// ProxyClient.
type ClientRequestMessage struct {
	Payload []byte
}

func (ClientRequestMessage) messageTypeKind() string { return "ClientRequest" }

// ClientResponseMessage carries opaque response traffic bound for
// ProxyServer.
type ClientResponseMessage struct {
	Payload []byte
}

func (ClientResponseMessage) messageTypeKind() string { return "ClientResponse" }

// DnsResolveFailedMessage reports an exit-side DNS failure back to the
// originating ProxyServer (spec §4.6.3, S6).
type DnsResolveFailedMessage struct {
	StreamKey string
}

func (DnsResolveFailedMessage) messageTypeKind() string { return "DnsResolveFailed" }

// GossipMessage carries a Neighborhood gossip payload (spec §4.6.3, S4).
type GossipMessage struct {
	Gossip Gossip
}

func (GossipMessage) messageTypeKind() string { return "Gossip" }

// wireMessageType is the JSON-serializable envelope used to round-trip a
// MessageType through a CryptData payload (Go interfaces do not
// marshal/unmarshal without an explicit discriminator).
type wireMessageType struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func marshalMessageType(m MessageType) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessageType{Kind: m.messageTypeKind(), Body: body})
}

func unmarshalMessageType(data []byte) (MessageType, error) {
	var w wireMessageType
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case "ClientRequest":
		var m ClientRequestMessage
		if err := json.Unmarshal(w.Body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "ClientResponse":
		var m ClientResponseMessage
		if err := json.Unmarshal(w.Body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "DnsResolveFailed":
		var m DnsResolveFailedMessage
		if err := json.Unmarshal(w.Body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "Gossip":
		var m GossipMessage
		if err := json.Unmarshal(w.Body, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &InvalidKeyError{Msg: "unknown message type kind " + w.Kind}
	}
}
