// Package webhook implements the inbound endpoint that WhatsApp automation
// backends post events to.
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured path (default /webhook)
//  2. Body size checked (reject with 413 if too large)
//  3. If a secret is configured and an X-Hub-Signature-256 header is present,
//     the HMAC-SHA256 is verified in constant time (reject with 401 on mismatch)
//  4. Body compacted to canonical JSON (500 if it is not JSON)
//  5. Payload classified; a received log entry and counters are recorded
//  6. Payload forwarded to every destination (when enabled)
//  7. 200 {"status":"ok","processed":<enabled>} returned
//
// The response waits for forwarding to finish, but forwarding runs on a
// context detached from the request: a sender that hangs up does not abort
// in-flight deliveries.
//
// # Signature Policy
//
// A missing signature header is accepted even when a secret is configured,
// so unsigned senders keep working. Only a present, wrong signature is
// rejected. Rejections never leak why verification failed.
//
// # Example Usage
//
//	in := webhook.New(webhook.Config{Path: "/webhook"}, store, engine, hub, logger)
//	r := chi.NewRouter()
//	in.Register(r)
package webhook
