// Package webhooks delivers finalized batches to the configured receiver.
//
// Every send yields a core.DeliveryOutcome:
// http_status | timeout | request_error | circuit_open.
// Only a 2xx http_status outcome counts as delivered; everything else is
// handed to the retry ladder by the delivery pool.
package webhooks
