package internal

import "expvar"

var (
	requestsTotal       = expvar.NewMap("pullplatypus_requests_total")
	eventsTotal         = expvar.NewMap("pullplatypus_events_total")
	ignoredTotal        = expvar.NewMap("pullplatypus_ignored_total")
	extractErrors       = expvar.NewMap("pullplatypus_extract_errors_total")
	deliveriesTotal     = expvar.NewMap("pullplatypus_deliveries_total")
	deliveryErrorsTotal = expvar.NewMap("pullplatypus_delivery_errors_total")
)

// IncRequest counts an inbound webhook by outcome ("ok", "ping", "unauthorized", "failed").
func IncRequest(outcome string) {
	requestsTotal.Add(outcome, 1)
}

func IncEvent(kind string) {
	eventsTotal.Add(kind, 1)
}

func IncIgnored(kind string) {
	ignoredTotal.Add(kind, 1)
}

func IncExtractError(reason string) {
	extractErrors.Add(reason, 1)
}

// IncDelivery counts one addressed message handed to a sender.
func IncDelivery(mode string) {
	deliveriesTotal.Add(mode, 1)
}

func IncDeliveryError(mode string) {
	deliveryErrorsTotal.Add(mode, 1)
}
