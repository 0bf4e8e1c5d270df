// Package triggers implements the inbound trigger adapters that normalize
// external events into canonical trigger payloads and admit them for
// execution.
//
// Every adapter follows the same contract: resolve the workflow (it must
// exist and be active), locate a trigger node of the matching kind, pass
// the security gate where one applies, then enqueue onto the bounded
// worker pool. Rejections are synchronous and carry a typed code; an
// accepted event is acknowledged before any node executes.
//
// Adapters:
//   - form: shared-token authenticated form submissions
//   - file: shared-token authenticated uploads with size, type and
//     hostile-content validation
//   - email: HMAC-signed inbound email webhooks
//   - database: in-process change notifications (no gate)
//   - schedule: cron-driven fires from the in-process scheduler (no gate)
package triggers
