// File: metrics/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus export of each interface's ring statistics (spec §3.1's
// "small statistics header", intnet/ring.Stats). Modeled on the
// pull-style prometheus.Collector used by the example TCPInfoCollector:
// Collect walks live state at scrape time rather than duplicating counters
// into a second set of prometheus.Gauge/Counter objects that could drift
// out of sync with the rings themselves.

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ringnet/intnetsw/intnet/network"
)

const namespace = "intnetsw"

// NetworkLister is the slice of Manager's behavior the collector needs.
// Satisfied by *network.Manager; kept as an interface so tests can supply
// a fake without building a full Manager.
type NetworkLister interface {
	Networks() []*network.Network
}

// Collector is a prometheus.Collector exporting per-interface ring
// counters across every live network.
type Collector struct {
	mgr NetworkLister

	recvFrames    *prometheus.Desc
	recvBytes     *prometheus.Desc
	recvOverflows *prometheus.Desc
	recvBadFrames *prometheus.Desc
	recvYields    *prometheus.Desc
	recvLost      *prometheus.Desc
	sendFrames    *prometheus.Desc
	sendBytes     *prometheus.Desc
	sendOverflows *prometheus.Desc
	sendBadFrames *prometheus.Desc
	sendYields    *prometheus.Desc
	sendLost      *prometheus.Desc

	activeInterfaces *prometheus.Desc
}

// NewCollector builds a Collector reading from mgr at each scrape.
func NewCollector(mgr NetworkLister) *Collector {
	labels := []string{"network", "if"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		mgr:              mgr,
		recvFrames:       desc("recv_frames_total", "Frames committed into the interface's recv ring."),
		recvBytes:        desc("recv_bytes_total", "Bytes committed into the interface's recv ring."),
		recvOverflows:    desc("recv_overflows_total", "Recv ring overflow events (client too slow to drain)."),
		recvBadFrames:    desc("recv_bad_frames_total", "Malformed frames rejected on the recv path."),
		recvYields:       desc("recv_yields_total", "Times the recv producer yielded waiting for ring space."),
		recvLost:         desc("recv_lost_total", "Frames dropped on the recv path due to sustained overflow."),
		sendFrames:       desc("send_frames_total", "Frames committed into the interface's send ring."),
		sendBytes:        desc("send_bytes_total", "Bytes committed into the interface's send ring."),
		sendOverflows:    desc("send_overflows_total", "Send ring overflow events."),
		sendBadFrames:    desc("send_bad_frames_total", "Malformed frames rejected on the send path."),
		sendYields:       desc("send_yields_total", "Times the send consumer yielded waiting for data."),
		sendLost:         desc("send_lost_total", "Frames dropped on the send path due to sustained overflow."),
		activeInterfaces: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "active_interfaces"), "Number of active interfaces per network.", []string{"network"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(out chan<- *prometheus.Desc) {
	out <- c.recvFrames
	out <- c.recvBytes
	out <- c.recvOverflows
	out <- c.recvBadFrames
	out <- c.recvYields
	out <- c.recvLost
	out <- c.sendFrames
	out <- c.sendBytes
	out <- c.sendOverflows
	out <- c.sendBadFrames
	out <- c.sendYields
	out <- c.sendLost
	out <- c.activeInterfaces
}

// Collect implements prometheus.Collector: walks every live network and
// every interface linked into it, emitting one labeled sample set each.
func (c *Collector) Collect(out chan<- prometheus.Metric) {
	for _, n := range c.mgr.Networks() {
		out <- prometheus.MustNewConstMetric(c.activeInterfaces, prometheus.GaugeValue, float64(n.NActive()), n.Name())

		for _, ifc := range n.Interfaces() {
			s := ifc.Stats()
			labels := []string{n.Name(), strconv.Itoa(ifc.Slot())}

			out <- prometheus.MustNewConstMetric(c.recvFrames, prometheus.CounterValue, float64(s.RecvFrames), labels...)
			out <- prometheus.MustNewConstMetric(c.recvBytes, prometheus.CounterValue, float64(s.RecvBytes), labels...)
			out <- prometheus.MustNewConstMetric(c.recvOverflows, prometheus.CounterValue, float64(s.RecvOverflows), labels...)
			out <- prometheus.MustNewConstMetric(c.recvBadFrames, prometheus.CounterValue, float64(s.RecvBadFrames), labels...)
			out <- prometheus.MustNewConstMetric(c.recvYields, prometheus.CounterValue, float64(s.RecvYields), labels...)
			out <- prometheus.MustNewConstMetric(c.recvLost, prometheus.CounterValue, float64(s.RecvLost), labels...)
			out <- prometheus.MustNewConstMetric(c.sendFrames, prometheus.CounterValue, float64(s.SendFrames), labels...)
			out <- prometheus.MustNewConstMetric(c.sendBytes, prometheus.CounterValue, float64(s.SendBytes), labels...)
			out <- prometheus.MustNewConstMetric(c.sendOverflows, prometheus.CounterValue, float64(s.SendOverflows), labels...)
			out <- prometheus.MustNewConstMetric(c.sendBadFrames, prometheus.CounterValue, float64(s.SendBadFrames), labels...)
			out <- prometheus.MustNewConstMetric(c.sendYields, prometheus.CounterValue, float64(s.SendYields), labels...)
			out <- prometheus.MustNewConstMetric(c.sendLost, prometheus.CounterValue, float64(s.SendLost), labels...)
		}
	}
}
