// Package transport carries envelopes from the router to agent inboxes.
// In-process agents consume a bounded channel inbox; remote agents are
// reached over websocket at the endpoint their card advertises. Both
// implementations classify failures as transient or permanent so the
// delivery retry layer can tell a full inbox from a closed one.
package transport
