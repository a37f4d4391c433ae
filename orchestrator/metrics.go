// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gauges the consensus context reports. The registerer is
// injected so tests can snapshot values off a private registry.
type Metrics struct {
	L2GasPrice prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		L2GasPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "l2_gas_price",
			Help:      "L2 gas price in fri of the most recently decided block.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.L2GasPrice)
	}
	return m
}

func (m *Metrics) setL2GasPrice(price *uint256.Int) {
	f, _ := new(big.Float).SetInt(price.ToBig()).Float64()
	m.L2GasPrice.Set(f)
}
