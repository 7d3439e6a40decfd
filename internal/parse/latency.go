// Package parse normalises raw probe tool output into the typed
// metric model. It supports the path tracer's JSON report, its
// wide-format text report (with and without a standard-deviation
// column), and the throughput tool's interval output.
package parse

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/HerbHall/pathvantage/internal/metric"
)

// mtrReport mirrors the JSON document emitted by `mtr --json`.
// Field names follow the tool's own spelling, including "Loss%".
type mtrReport struct {
	Report struct {
		Mtr struct {
			Src   string      `json:"src"`
			Dst   string      `json:"dst"`
			Tests json.Number `json:"tests"`
		} `json:"mtr"`
		Hubs []mtrHub `json:"hubs"`
	} `json:"report"`
}

type mtrHub struct {
	Count json.Number `json:"count"`
	Host  string      `json:"host"`
	Loss  json.Number `json:"Loss%"`
	Snt   json.Number `json:"Snt"`
	Last  json.Number `json:"Last"`
	Avg   json.Number `json:"Avg"`
	Best  json.Number `json:"Best"`
	Wrst  json.Number `json:"Wrst"`
	StDev json.Number `json:"StDev"`
}

// Latency normalises one path-latency report against the address that
// was probed. It never fails: unparseable input yields a record with
// every RTT sample unavailable and a classified reason when one of
// the known failure signatures is present.
func Latency(raw []byte, target string) metric.LatencyMetrics {
	text := string(raw)

	var m metric.LatencyMetrics
	if rep, ok := parseLatencyJSON(raw); ok {
		m = latencyFromHubs(rep.Report.Hubs, target)
	} else {
		m = parseLatencyText(text, target)
	}

	if _, reason := Classify(text); reason != "" {
		m.Reason = reason
	} else if m.Hops == 0 {
		m.Reason = "unrecognized probe output"
	} else if !m.DestinationReached {
		m.Reason = "destination not reached; metrics describe the last responding hop"
	}

	m.Collapse()
	return m
}

func parseLatencyJSON(raw []byte) (*mtrReport, bool) {
	trimmed := strings.TrimSpace(string(raw))
	// The tool prints warnings before the document on some systems;
	// cut down to the first brace.
	idx := strings.Index(trimmed, "{")
	if idx < 0 {
		return nil, false
	}
	var rep mtrReport
	if err := json.Unmarshal([]byte(trimmed[idx:]), &rep); err != nil {
		return nil, false
	}
	if len(rep.Report.Hubs) == 0 {
		return nil, false
	}
	return &rep, true
}

func latencyFromHubs(hubs []mtrHub, target string) metric.LatencyMetrics {
	var m metric.LatencyMetrics
	m.Hops = len(hubs)

	hub := hubs[len(hubs)-1]
	for _, h := range hubs {
		if hostMatches(h.Host, target) {
			hub = h
			m.DestinationReached = true
			break
		}
	}

	m.Sent = int(numOr(hub.Snt, 0))
	m.Loss = numSample(hub.Loss)
	m.Best = numSample(hub.Best)
	m.Avg = numSample(hub.Avg)
	m.Worst = numSample(hub.Wrst)
	m.Jitter = jitterFrom(numSample(hub.StDev), m.Best, m.Worst)
	return m
}

// reportSchema is detected once per report from the header row, then
// applied to every hop line. The wide text report either carries a
// trailing StDev column or stops at Wrst.
type reportSchema int

const (
	schemaUnknown reportSchema = iota
	schemaWithStDev
	schemaNoStDev
)

func detectSchema(header string) reportSchema {
	switch {
	case strings.Contains(header, "StDev"):
		return schemaWithStDev
	case strings.Contains(header, "Wrst") || strings.Contains(header, "Worst"):
		return schemaNoStDev
	}
	return schemaUnknown
}

// textHop is one parsed row of the wide text report.
type textHop struct {
	host                    string
	loss                    metric.Sample
	sent                    int
	best, avg, worst, stdev metric.Sample
}

func parseLatencyText(text, target string) metric.LatencyMetrics {
	var m metric.LatencyMetrics

	schema := schemaUnknown
	var hops []textHop
	for _, line := range strings.Split(text, "\n") {
		if schema == schemaUnknown {
			if s := detectSchema(line); s != schemaUnknown {
				schema = s
			}
			continue
		}
		hop, ok := parseHopLine(line, schema)
		if !ok {
			continue
		}
		hops = append(hops, hop)
	}
	if len(hops) == 0 {
		return m
	}

	m.Hops = len(hops)
	hop := hops[len(hops)-1]
	for _, h := range hops {
		if hostMatches(h.host, target) {
			hop = h
			m.DestinationReached = true
			break
		}
	}

	m.Sent = hop.sent
	m.Loss = hop.loss
	m.Best = hop.best
	m.Avg = hop.avg
	m.Worst = hop.worst
	m.Jitter = jitterFrom(hop.stdev, m.Best, m.Worst)
	return m
}

// parseHopLine extracts one `N.|-- host Loss% Snt Last Avg Best Wrst
// [StDev]` row. Unresponsive hops are printed as `???` and parse to a
// row with every sample unavailable.
func parseHopLine(line string, schema reportSchema) (textHop, bool) {
	var hop textHop

	trimmed := strings.TrimSpace(line)
	sep := strings.Index(trimmed, "|--")
	if sep < 0 {
		return hop, false
	}
	fields := strings.Fields(trimmed[sep+len("|--"):])

	want := 7 // host loss snt last avg best wrst
	if schema == schemaWithStDev {
		want = 8
	}
	if len(fields) < 1 {
		return hop, false
	}
	hop.host = fields[0]
	if hop.host == "???" || len(fields) < want {
		return hop, hop.host != ""
	}

	hop.loss = percentSample(fields[1])
	hop.sent = atoiOr(fields[2], 0)
	hop.avg = floatSample(fields[4])
	hop.best = floatSample(fields[5])
	hop.worst = floatSample(fields[6])
	if schema == schemaWithStDev {
		hop.stdev = floatSample(fields[7])
	}
	return hop, true
}

// hostMatches compares a report hop address against the probed
// target. The tracer prints either a bare address or `name (addr)`
// when reverse lookup is on.
func hostMatches(host, target string) bool {
	if host == target {
		return true
	}
	if open := strings.IndexByte(host, '('); open >= 0 {
		if end := strings.IndexByte(host[open:], ')'); end > 0 {
			return host[open+1:open+end] == target
		}
	}
	return false
}

// jitterFrom prefers the report's standard deviation; when the column
// is absent it estimates jitter as |worst-best|.
func jitterFrom(stdev, best, worst metric.Sample) metric.Sample {
	if stdev.OK() {
		return stdev
	}
	b, okB := best.Value()
	w, okW := worst.Value()
	if !okB || !okW {
		return metric.None()
	}
	return metric.Some(math.Abs(w - b))
}

func floatSample(s string) metric.Sample {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return metric.None()
	}
	return metric.Some(v)
}

func percentSample(s string) metric.Sample {
	return floatSample(strings.TrimSuffix(s, "%"))
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func numSample(n json.Number) metric.Sample {
	if n == "" {
		return metric.None()
	}
	v, err := n.Float64()
	if err != nil {
		return metric.None()
	}
	return metric.Some(v)
}

func numOr(n json.Number, def float64) float64 {
	if n == "" {
		return def
	}
	v, err := n.Float64()
	if err != nil {
		return def
	}
	return v
}
