// Package a2a defines the agent-to-agent wire protocol: the message
// envelope, typed content parts with a pluggable handler registry, the
// JSON codec, agent registration cards and the registration token
// authority.
//
// The envelope is deliberately small. Everything content-shaped lives in
// parts, and every part is owned by a content handler that validates it at
// construction time and encodes it on the wire. New content types plug in
// through Registry.Register without touching the codec.
package a2a
