package quicsession

import "encoding/json"

// localTransportParameters encodes the session's own offered limits for
// the TLS layer to carry in its transport_parameters extension. Real
// RFC 9000 transport parameters use a varint TLV encoding; producing
// that wire format is the transport engine's job everywhere else in
// this design (see Transport's doc comment), but crypto/tls calls back
// into the Session itself for these bytes via a
// QUICTransportParametersRequired event (answered with
// SetTransportParameters),
// so the Session needs some encoding of its own. JSON keeps this
// opaque-blob: only a peer's own Transport.HandleTransportParameters
// ever decodes it, and nothing here depends on the exact byte layout.
func (s *Session) localTransportParameters() []byte {
	blob, err := json.Marshal(s.cfg.Config)
	if err != nil {
		return nil
	}
	return blob
}
