// Package doctor checks a log file for damage and for disagreement between
// its summary section and its data section.
package doctor

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/reader"
)

// Severity ranks an issue
type Severity int

const (
	// Notice is worth knowing but does not make the file invalid
	Notice Severity = iota
	// Problem is a violation of the file format
	Problem
)

func (s Severity) String() string {
	if s == Problem {
		return "problem"
	}
	return "notice"
}

// Issue is one finding
type Issue struct {
	Severity Severity
	Message  string
}

// Report is the outcome of a check
type Report struct {
	Size        int64
	Profile     string
	HasSummary  bool
	Messages    uint64
	Chunks      int
	Attachments int
	Metadata    int
	Issues      []Issue
	// StrictErr is the first error a strict read stops at, nil if the file
	// reads cleanly in strict mode.
	StrictErr error
}

// OK reports whether no problems were found
func (r *Report) OK() bool {
	if r.StrictErr != nil {
		return false
	}
	for _, issue := range r.Issues {
		if issue.Severity == Problem {
			return false
		}
	}
	return true
}

// Problems returns the issues of severity Problem
func (r *Report) Problems() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == Problem {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Report) problemf(format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Severity: Problem, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) noticef(format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Severity: Notice, Message: fmt.Sprintf(format, args...)})
}

// CheckFile checks the file at path
func CheckFile(path string, logger logrus.FieldLogger) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Check(file, logger)
}

// Check reads rs in full, once tolerating damage to collect every problem
// and once in strict mode. An error is returned only when the input is not
// a log file at all.
func Check(rs io.ReadSeeker, logger logrus.FieldLogger) (*Report, error) {
	report := &Report{}
	// the same damage is met by every pass over it
	seen := make(map[string]bool)
	opts := reader.Options{
		Mode:   reader.BestEffort,
		Logger: logger,
		OnWarning: func(err error) {
			if msg := err.Error(); !seen[msg] {
				seen[msg] = true
				report.problemf("%s", msg)
			}
		},
	}

	r, err := reader.Open(rs, opts)
	if err != nil {
		return nil, err
	}
	report.Profile = r.Header().Profile

	scanned, err := r.Scan()
	if err != nil {
		return nil, err
	}
	stats := scanned.Statistics
	report.Messages = stats.MessageCount
	report.Chunks = len(scanned.ChunkIndexes)
	report.Attachments = len(scanned.AttachmentIndexes)
	report.Metadata = len(scanned.MetadataIndexes)

	info, err := r.Info()
	if err != nil {
		return nil, err
	}
	report.Size = info.Size
	report.HasSummary = info.Indexed

	if !info.Indexed {
		report.noticef("no usable summary section, indexed reads fall back to scanning")
	} else {
		compareSummary(report, info.Summary, scanned)
		compareIndexedRead(report, r, stats.MessageCount)
	}
	checkAttachments(report, r, scanned)

	report.StrictErr = strictRead(rs)
	return report, nil
}

func compareSummary(report *Report, summary, scanned *reader.Summary) {
	if want := summary.Statistics; want != nil {
		got := scanned.Statistics
		if want.MessageCount != got.MessageCount {
			report.problemf("statistics count %d messages, data section has %d", want.MessageCount, got.MessageCount)
		}
		if got.MessageCount > 0 && (want.MessageStartTime != got.MessageStartTime || want.MessageEndTime != got.MessageEndTime) {
			report.problemf("statistics time range [%d, %d] differs from data section [%d, %d]",
				want.MessageStartTime, want.MessageEndTime, got.MessageStartTime, got.MessageEndTime)
		}
		if want.ChunkCount != got.ChunkCount {
			report.problemf("statistics count %d chunks, data section has %d", want.ChunkCount, got.ChunkCount)
		}
		if want.AttachmentCount != got.AttachmentCount {
			report.problemf("statistics count %d attachments, data section has %d", want.AttachmentCount, got.AttachmentCount)
		}
		if want.MetadataCount != got.MetadataCount {
			report.problemf("statistics count %d metadata records, data section has %d", want.MetadataCount, got.MetadataCount)
		}
		for _, id := range channelIDs(want.ChannelMessageCounts, got.ChannelMessageCounts) {
			if want.ChannelMessageCounts[id] != got.ChannelMessageCounts[id] {
				report.problemf("channel %d: statistics count %d messages, data section has %d",
					id, want.ChannelMessageCounts[id], got.ChannelMessageCounts[id])
			}
		}
	} else {
		report.noticef("summary has no statistics record")
	}

	if len(summary.ChunkIndexes) == 0 && len(scanned.ChunkIndexes) > 0 {
		report.noticef("summary has no chunk indexes")
	} else if len(summary.ChunkIndexes) > 0 {
		if len(summary.ChunkIndexes) != len(scanned.ChunkIndexes) {
			report.problemf("summary indexes %d chunks, data section has %d",
				len(summary.ChunkIndexes), len(scanned.ChunkIndexes))
		}
		starts := make(map[uint64]bool, len(scanned.ChunkIndexes))
		for _, ci := range scanned.ChunkIndexes {
			starts[ci.ChunkStartOffset] = true
		}
		for _, ci := range summary.ChunkIndexes {
			if !starts[ci.ChunkStartOffset] {
				report.problemf("chunk index points at offset %d where no chunk starts", ci.ChunkStartOffset)
			}
		}
	}

	for id, ch := range scanned.Channels {
		if len(summary.Channels) > 0 && summary.Channels[id] == nil {
			report.problemf("channel %d (%s) is missing from the summary", id, ch.Topic)
		}
	}
}

func compareIndexedRead(report *Report, r *reader.Reader, linear uint64) {
	it := r.Messages(reader.UsingIndex(true))
	defer it.Close()
	if !it.Indexed() {
		report.noticef("summary cannot drive indexed reads")
		return
	}

	var n uint64
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		report.problemf("indexed read failed: %v", err)
		return
	}
	if n != linear {
		report.problemf("indexed read yields %d messages, linear read yields %d", n, linear)
	}
}

func checkAttachments(report *Report, r *reader.Reader, scanned *reader.Summary) {
	for _, idx := range scanned.AttachmentIndexes {
		// CRC mismatches surface through the warning hook
		if _, err := r.Attachment(idx); err != nil {
			report.problemf("attachment %q at offset %d: %v", idx.Name, idx.Offset, err)
		}
	}
	for _, idx := range scanned.MetadataIndexes {
		if _, err := r.Metadata(idx); err != nil {
			report.problemf("metadata %q at offset %d: %v", idx.Name, idx.Offset, err)
		}
	}
}

// strictRead reads every record and indexed message in strict mode
func strictRead(rs io.ReadSeeker) error {
	r, err := reader.Open(rs, reader.Options{Mode: reader.Strict})
	if err != nil {
		return err
	}

	records := r.Records()
	for records.Next() {
		if _, ok := records.Record().(*codec.Footer); ok {
			break
		}
	}
	if err := records.Err(); err != nil {
		return err
	}

	if summary := r.Summary(); summary != nil {
		for _, idx := range summary.AttachmentIndexes {
			if _, err := r.Attachment(idx); err != nil {
				return err
			}
		}
	}

	messages := r.Messages()
	defer messages.Close()
	for messages.Next() {
	}
	return messages.Err()
}

func channelIDs(a, b map[uint16]uint64) []uint16 {
	seen := make(map[uint16]bool)
	var ids []uint16
	for _, m := range []map[uint16]uint64{a, b} {
		for id := range m {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
