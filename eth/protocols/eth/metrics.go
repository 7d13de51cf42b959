package eth

import "github.com/ethereum/go-ethereum/metrics"

var (
	headersRequestsCounter  = metrics.NewRegisteredCounter("eth_headers_requests_received_total", nil)
	bodiesRequestsCounter   = metrics.NewRegisteredCounter("eth_bodies_requests_received_total", nil)
	receiptsRequestsCounter = metrics.NewRegisteredCounter("eth_receipts_requests_received_total", nil)
	nodeDataRequestsCounter = metrics.NewRegisteredCounter("eth_node_data_requests_received_total", nil)

	// pollDurationCounter accumulates the seconds spent draining the request
	// stream per wake-up.
	pollDurationCounter = metrics.NewRegisteredCounterFloat64("acc_duration_poll_eth_req_handler", nil)
)
