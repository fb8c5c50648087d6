package aggregate

import (
	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/stats"
)

// Field names read from ping samples.
const (
	FieldLatency = "latency"
	FieldSuccess = "success"
	FieldStatus  = "status"
	FieldHost    = "host"
)

// Ping aggregates probe samples of the form
//
//	{"timestamp": 1714564800, "host": "10.0.0.2", "latency": 12.4, "success": true}
//
// into latency min/max/avg/p95 (0.1 ms), jitter avg/max over consecutive
// samples, success and failure counts, packet loss and quality ratings.
// "status": "success"|"failure" is accepted in place of "success". A bucket
// with no samples yields no row; a bucket where every probe failed yields a
// row without latency fields.
func Ping() rollup.Aggregator {
	return rollup.AggregatorFunc(aggregatePing)
}

func aggregatePing(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record {
	if len(records) == 0 {
		return nil
	}

	var (
		latencies     []float64
		hosts         = map[string]int{}
		success, fail int
	)
	for _, r := range records {
		if v, ok := r.Float(FieldLatency); ok {
			latencies = append(latencies, v)
		}
		if h, ok := r.String(FieldHost); ok {
			hosts[h]++
		}
		switch pingOutcome(r) {
		case outcomeSuccess:
			success++
		case outcomeFailure:
			fail++
		}
	}

	total := len(records)
	if fail == 0 {
		fail = total - success
	}
	loss := stats.Round(float64(fail)/float64(total)*100, 2)

	row := rawlog.Record{
		"sample_count":  total,
		"success_count": success,
		"failure_count": fail,
		"success_rate":  stats.Round(float64(success)/float64(total)*100, 2),
		"packet_loss":   loss,
	}
	if len(hosts) > 0 {
		row["hosts"] = hosts
	}

	ratings := []stats.Rating{stats.PacketLossThresholds.Rate(loss)}
	row["packet_loss_quality"] = string(ratings[0])

	if lat, ok := stats.AggregateLatencies(latencies); ok {
		row["latency_min"] = stats.Round(lat.Min, 1)
		row["latency_max"] = stats.Round(lat.Max, 1)
		row["latency_avg"] = stats.Round(lat.Avg, 1)
		row["latency_p95"] = stats.Round(lat.P95, 1)

		r := stats.LatencyThresholds.Rate(lat.Avg)
		row["latency_quality"] = string(r)
		ratings = append(ratings, r)
	}
	if j, ok := stats.JitterFromLatencies(latencies); ok {
		row["jitter_avg"] = stats.Round(j.Avg, 2)
		row["jitter_max"] = stats.Round(j.Max, 2)

		r := stats.JitterThresholds.Rate(j.Avg)
		row["jitter_quality"] = string(r)
		ratings = append(ratings, r)
	}
	row["quality"] = string(stats.OverallQuality(ratings...))

	withPeriod(row, bucketStart, interval)
	return []rawlog.Record{row}
}

type outcome int

const (
	outcomeUnknown outcome = iota
	outcomeSuccess
	outcomeFailure
)

func pingOutcome(r rawlog.Record) outcome {
	if ok, present := r.Bool(FieldSuccess); present {
		if ok {
			return outcomeSuccess
		}
		return outcomeFailure
	}
	switch status, _ := r.String(FieldStatus); status {
	case "success":
		return outcomeSuccess
	case "failure":
		return outcomeFailure
	}
	return outcomeUnknown
}
