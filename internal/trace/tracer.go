// Package trace provides the builtin fallback probes used when the
// external tracer is not installed: a minimal ICMP hop-by-hop tracer
// and a pinger-based load probe. Both normalise into the same metric
// model as the external tools, so the rest of the engine cannot tell
// them apart.
package trace

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/probe"
)

const (
	maxHops    = 30
	hopTimeout = time.Second
	probeData  = "pathvantage-trace"
)

// Tracer is the builtin LatencyProber. IPv4 only; the external tool
// remains the preferred path and handles everything else.
type Tracer struct {
	Logger *zap.Logger
}

// Probe walks the path once to establish hop count and reachability,
// then sends the configured number of full-TTL echo probes to collect
// RTT statistics. Source binding and non-ICMP transports are not
// supported here; the caller only selects the builtin when the
// external tracer is absent.
func (t *Tracer) Probe(ctx context.Context, spec probe.LatencySpec) metric.LatencyMetrics {
	var m metric.LatencyMetrics
	m.Sent = spec.Count

	ip := net.ParseIP(spec.Target)
	if ip == nil || ip.To4() == nil {
		m.Reason = "builtin tracer supports IPv4 literals only"
		m.Collapse()
		return m
	}
	ip = ip.To4()

	conn, network, err := openICMPConn()
	if err != nil {
		m.Reason = "permission denied (raw socket access required)"
		m.Collapse()
		return m
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff

	// Pass 1: hop count and reachability.
	seq := 0
	for ttl := 1; ttl <= maxHops; ttl++ {
		if ctx.Err() != nil {
			m.Reason = "probe interrupted"
			m.Collapse()
			return m
		}
		seq++
		peer, _, reached := t.probeHop(conn, network, ip, ttl, id, seq)
		if peer != "" {
			m.Hops = ttl
		}
		if reached {
			m.DestinationReached = peer == spec.Target
			break
		}
	}

	// Pass 2: RTT statistics straight to the destination.
	interval := spec.Interval
	if interval <= 0 {
		interval = time.Second
	}
	var rtts []float64
	for i := 0; i < spec.Count; i++ {
		if ctx.Err() != nil {
			break
		}
		seq++
		peer, rtt, reached := t.probeHop(conn, network, ip, maxHops, id, seq)
		if reached && peer == spec.Target {
			rtts = append(rtts, rtt)
		}
		if i < spec.Count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	fillStats(&m, rtts, spec.Count)
	m.Collapse()
	return m
}

func fillStats(m *metric.LatencyMetrics, rtts []float64, sent int) {
	if sent > 0 {
		m.Loss = metric.Some(100 * float64(sent-len(rtts)) / float64(sent))
	}
	if len(rtts) == 0 {
		if m.Reason == "" {
			m.Reason = "no echo replies received"
		}
		return
	}
	best, worst, sum := rtts[0], rtts[0], 0.0
	for _, r := range rtts {
		if r < best {
			best = r
		}
		if r > worst {
			worst = r
		}
		sum += r
	}
	m.Best = metric.Some(best)
	m.Avg = metric.Some(sum / float64(len(rtts)))
	m.Worst = metric.Some(worst)
	m.Jitter = metric.Some(math.Abs(worst - best))
}

// openICMPConn tries the unprivileged datagram socket first and falls
// back to a raw socket. Windows only has the raw variant.
func openICMPConn() (*icmp.PacketConn, string, error) {
	if runtime.GOOS == "windows" {
		conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		return conn, "ip4:icmp", err
	}
	conn, err := icmp.ListenPacket("udp4", "")
	if err == nil {
		return conn, "udp4", nil
	}
	conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	return conn, "ip4:icmp", err
}

// probeHop sends one echo request with the given TTL and waits for a
// matching reply. Returns the responding peer, the RTT in
// milliseconds, and whether the reply was a terminal one (echo reply
// or destination unreachable).
func (t *Tracer) probeHop(conn *icmp.PacketConn, network string, target net.IP, ttl, id, seq int) (peer string, rttMs float64, reached bool) {
	if err := conn.IPv4PacketConn().SetTTL(ttl); err != nil {
		t.Logger.Debug("set TTL failed", zap.Int("ttl", ttl), zap.Error(err))
		return "", 0, false
	}

	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte(probeData)},
	}
	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return "", 0, false
	}

	var dst net.Addr
	if network == "udp4" {
		dst = &net.UDPAddr{IP: target}
	} else {
		dst = &net.IPAddr{IP: target}
	}

	sendTime := time.Now()
	if _, err := conn.WriteTo(msgBytes, dst); err != nil {
		t.Logger.Debug("send failed", zap.Int("ttl", ttl), zap.Error(err))
		return "", 0, false
	}

	deadline := sendTime.Add(hopTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", 0, false
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return "", 0, false
		}
		rtt := float64(time.Since(sendTime).Microseconds()) / 1000.0

		var fromIP string
		switch p := from.(type) {
		case *net.UDPAddr:
			fromIP = p.IP.String()
		case *net.IPAddr:
			fromIP = p.IP.String()
		default:
			fromIP = from.String()
		}

		reply, err := icmp.ParseMessage(1, buf[:n])
		if err != nil {
			continue
		}

		switch reply.Type {
		case ipv4.ICMPTypeEchoReply:
			if echo, ok := reply.Body.(*icmp.Echo); ok && echo.ID == id && echo.Seq == seq {
				return fromIP, rtt, true
			}
		case ipv4.ICMPTypeTimeExceeded:
			if matchesProbe(reply, id, seq) {
				return fromIP, rtt, false
			}
		case ipv4.ICMPTypeDestinationUnreachable:
			if matchesProbe(reply, id, seq) {
				return fromIP, rtt, true
			}
		}

		if time.Now().After(deadline) {
			return "", 0, false
		}
	}
}

// matchesProbe checks whether an ICMP error message carries our echo
// request. Error payloads embed the original IP header plus the first
// 8 bytes of the triggering packet.
func matchesProbe(reply *icmp.Message, expectedID, expectedSeq int) bool {
	var data []byte
	switch body := reply.Body.(type) {
	case *icmp.TimeExceeded:
		data = body.Data
	case *icmp.DstUnreach:
		data = body.Data
	default:
		return false
	}
	if len(data) < 28 {
		return false
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < 20 || len(data) < ihl+8 {
		return false
	}
	inner := data[ihl:]
	if inner[0] != 8 { // echo request
		return false
	}
	id := int(binary.BigEndian.Uint16(inner[4:6]))
	seq := int(binary.BigEndian.Uint16(inner[6:8]))
	return id == expectedID && seq == expectedSeq
}
