package aqmbench

//
// Output formatting
//
// Normalizes the raw artifacts written by the traffic clients and the
// capture processes into the canonical per-flow record shape.
//

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/montanaflynn/stats"
)

// FormattedResultFile is the name of the formatted per-flow artifact
// inside the source host's output directory.
const FormattedResultFile = "result_new"

// FlowRecord is one normalized sample of a flow: the canonical
// four-column record shape.
type FlowRecord struct {
	// End is the interval end time in seconds since flow start.
	End float64

	// ThroughputMbit is the interval throughput in Mbit/s.
	ThroughputMbit float64

	// Cwnd is the sender congestion window in bytes. Zero when the
	// raw artifact was line-oriented.
	Cwnd int64

	// RTTMicros is the round-trip time in microseconds. Zero when the
	// raw artifact was line-oriented.
	RTTMicros int64
}

// clientTextPattern matches an interval or summary line of the
// line-oriented client output, e.g.:
//
//	[  5]   0.00-1.00   sec   113 MBytes   948 Mbits/sec
var clientTextPattern = regexp.MustCompile(
	`\[\s*\d+\]\s+([0-9.]+)-\s*([0-9.]+)\s+sec\s+([0-9.]+)\s+([KMG]?)Bytes\s+([0-9.]+)\s+([KMG]?)bits/sec`)

// unitMultiplier maps the K/M/G prefixes of the line-oriented client
// output onto multipliers.
func unitMultiplier(prefix string) float64 {
	switch prefix {
	case "K":
		return 1e3
	case "M":
		return 1e6
	case "G":
		return 1e9
	default:
		return 1
	}
}

// ParseClientText parses line-oriented client output into interval
// records plus the flow summary. The client prints the whole-transfer
// summary as a trailing line spanning from zero to the completion time;
// we rely on that to split intervals from the summary.
func ParseClientText(reader io.Reader) ([]*FlowRecord, *FlowSummary, error) {
	var rows []*FlowRecord
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		matches := clientTextPattern.FindStringSubmatch(scanner.Text())
		if matches == nil {
			continue
		}
		end, err := strconv.ParseFloat(matches[2], 64)
		if err != nil {
			return nil, nil, err
		}
		rate, err := strconv.ParseFloat(matches[5], 64)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, &FlowRecord{
			End:            end,
			ThroughputMbit: rate * unitMultiplier(matches[6]) / 1e6,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(rows) < 1 {
		return nil, nil, fmt.Errorf("%w: no parsable rows", ErrRawResultMissing)
	}

	last := rows[len(rows)-1]
	summary := &FlowSummary{
		FCT:            last.End,
		ThroughputMbit: last.ThroughputMbit,
	}
	return rows, summary, nil
}

// clientJSON mirrors the subset of the structured client output that
// the formatter consumes.
type clientJSON struct {
	Intervals []struct {
		Streams []struct {
			RTT     int64 `json:"rtt"`
			SndCwnd int64 `json:"snd_cwnd"`
		} `json:"streams"`
		Sum struct {
			Start         float64 `json:"start"`
			End           float64 `json:"end"`
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum"`
	} `json:"intervals"`
	End struct {
		SumSent struct {
			Seconds       float64 `json:"seconds"`
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_sent"`
	} `json:"end"`
}

// ParseClientJSON parses structured client output into interval records
// plus the flow summary, including the RTT distribution.
func ParseClientJSON(reader io.Reader) ([]*FlowRecord, *FlowSummary, error) {
	var doc clientJSON
	if err := json.NewDecoder(reader).Decode(&doc); err != nil {
		return nil, nil, err
	}

	// 1us..10min with 3 significant figures
	histogram := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)

	var rows []*FlowRecord
	for _, interval := range doc.Intervals {
		row := &FlowRecord{
			End:            interval.Sum.End,
			ThroughputMbit: interval.Sum.BitsPerSecond / 1e6,
		}
		if len(interval.Streams) > 0 {
			row.Cwnd = interval.Streams[0].SndCwnd
			row.RTTMicros = interval.Streams[0].RTT
			_ = histogram.RecordValue(row.RTTMicros)
		}
		rows = append(rows, row)
	}
	if len(rows) < 1 {
		return nil, nil, fmt.Errorf("%w: no intervals", ErrRawResultMissing)
	}

	summary := &FlowSummary{
		FCT:            doc.End.SumSent.Seconds,
		ThroughputMbit: doc.End.SumSent.BitsPerSecond / 1e6,
	}
	if histogram.TotalCount() > 0 {
		summary.RTT = RTTStats{
			P50: histogram.ValueAtQuantile(50),
			P90: histogram.ValueAtQuantile(90),
			P99: histogram.ValueAtQuantile(99),
			Max: histogram.Max(),
		}
	}

	// append the whole-transfer summary as the trailing row, like the
	// line-oriented format does
	rows = append(rows, &FlowRecord{
		End:            summary.FCT,
		ThroughputMbit: summary.ThroughputMbit,
	})
	return rows, summary, nil
}

// WriteFormatted writes records to path in the canonical four-column
// shape: end-time, throughput, congestion-window, round-trip-time.
func WriteFormatted(path string, records []*FlowRecord) error {
	filep, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Fprintf(filep, "%v %v %d %d\n",
			record.End, record.ThroughputMbit, record.Cwnd, record.RTTMicros)
	}
	return filep.Close()
}

// ParseFormatted reads back a formatted per-flow artifact.
func ParseFormatted(reader io.Reader) ([]*FlowRecord, error) {
	var rows []*FlowRecord
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			return nil, fmt.Errorf("aqmbench: formatted row with %d columns", len(fields))
		}
		end, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, err
		}
		rate, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, err
		}
		cwnd, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, err
		}
		rtt, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &FlowRecord{
			End:            end,
			ThroughputMbit: rate,
			Cwnd:           cwnd,
			RTTMicros:      rtt,
		})
	}
	return rows, scanner.Err()
}

// FormatFlow normalizes the raw artifact of one flow: it parses the raw
// client output, writes the formatted artifact next to it, and returns
// the flow summary. Fails with [ErrRawResultMissing] when the artifact
// does not exist.
func FormatFlow(result *FlowResult) (*FlowSummary, error) {
	filep, err := os.Open(result.RawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRawResultMissing, result.RawPath)
	}
	defer filep.Close()

	var (
		rows    []*FlowRecord
		summary *FlowSummary
	)
	if result.Structured {
		rows, summary, err = ParseClientJSON(filep)
	} else {
		rows, summary, err = ParseClientText(filep)
	}
	if err != nil {
		return nil, err
	}

	formatted := filepath.Join(filepath.Dir(result.RawPath), FormattedResultFile)
	if err := WriteFormatted(formatted, rows); err != nil {
		return nil, err
	}
	return summary, nil
}

// CaptureRecord is one normalized sample of a capture: TCP bytes and
// packets observed during one second of the traffic window.
type CaptureRecord struct {
	// Second is the zero-based second since the first observed packet.
	Second int

	// Bytes is the number of TCP packet bytes observed.
	Bytes int64

	// Packets is the number of TCP packets observed.
	Packets int64
}

// ThroughputMbit returns the record's throughput in Mbit/s.
func (cr *CaptureRecord) ThroughputMbit() float64 {
	return float64(cr.Bytes) * 8 / 1e6
}

// CaptureSummary summarizes one interface's capture.
type CaptureSummary struct {
	// Interface is the monitored interface name.
	Interface string

	// MeanMbit is the mean per-second throughput in Mbit/s.
	MeanMbit float64

	// MaxMbit is the peak per-second throughput in Mbit/s.
	MaxMbit float64
}

// ParseCapturePCAP reads a structured capture file and buckets the TCP
// traffic it contains into per-second [CaptureRecord]s.
func ParseCapturePCAP(path string) ([]*CaptureRecord, error) {
	filep, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer filep.Close()

	reader, err := pcapgo.NewReader(filep)
	if err != nil {
		return nil, err
	}

	var (
		first   time.Time
		records []*CaptureRecord
	)
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		if packet.Layer(layers.LayerTypeTCP) == nil {
			continue
		}
		if first.IsZero() {
			first = ci.Timestamp
		}
		records = bucketCapture(records, int(ci.Timestamp.Sub(first).Seconds()), int64(ci.Length))
	}
	return records, nil
}

// captureTextPattern matches the timestamp and trailing length of one
// line of the live decoded capture summary.
var captureTextPattern = regexp.MustCompile(
	`^(\d{2}):(\d{2}):(\d{2})\.(\d{6}) .*length (\d+)$`)

// ParseCaptureText reads a live decoded capture summary and buckets the
// TCP traffic it describes into per-second [CaptureRecord]s.
func ParseCaptureText(reader io.Reader) ([]*CaptureRecord, error) {
	var (
		first   = -1
		records []*CaptureRecord
	)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		matches := captureTextPattern.FindStringSubmatch(scanner.Text())
		if matches == nil {
			continue
		}
		hour := Must1(strconv.Atoi(matches[1]))
		minute := Must1(strconv.Atoi(matches[2]))
		second := Must1(strconv.Atoi(matches[3]))
		length := Must1(strconv.ParseInt(matches[5], 10, 64))
		offset := hour*3600 + minute*60 + second
		if first < 0 {
			first = offset
		}
		records = bucketCapture(records, offset-first, length)
	}
	return records, scanner.Err()
}

// bucketCapture accumulates length bytes into the record for second,
// extending records as needed.
func bucketCapture(records []*CaptureRecord, second int, length int64) []*CaptureRecord {
	if second < 0 {
		return records
	}
	for len(records) <= second {
		records = append(records, &CaptureRecord{Second: len(records)})
	}
	records[second].Bytes += length
	records[second].Packets++
	return records
}

// FormatCapture normalizes one capture artifact: it parses the capture
// per its mode, writes the per-second rows next to the artifact, and
// returns the interface summary.
func FormatCapture(handle *CaptureHandle) (*CaptureSummary, error) {
	var (
		records []*CaptureRecord
		err     error
	)
	if handle.Full {
		records, err = ParseCapturePCAP(handle.Path)
	} else {
		filep, openErr := os.Open(handle.Path)
		if openErr != nil {
			return nil, openErr
		}
		records, err = ParseCaptureText(filep)
		filep.Close()
	}
	if err != nil {
		return nil, err
	}

	formatted := strings.TrimSuffix(handle.Path, filepath.Ext(handle.Path)) + ".dat"
	filep, err := os.Create(formatted)
	if err != nil {
		return nil, err
	}
	series := make([]float64, 0, len(records))
	for _, record := range records {
		series = append(series, record.ThroughputMbit())
		fmt.Fprintf(filep, "%d %v %d\n", record.Second, record.ThroughputMbit(), record.Packets)
	}
	if err := filep.Close(); err != nil {
		return nil, err
	}

	summary := &CaptureSummary{Interface: handle.Interface}
	if len(series) > 0 {
		summary.MeanMbit = Must1(stats.Mean(series))
		summary.MaxMbit = Must1(stats.Max(series))
	}
	return summary, nil
}
