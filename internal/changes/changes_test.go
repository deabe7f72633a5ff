package changes

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want Line
	}{
		{">f a.txt", Line{Outbound, "a.txt"}},
		{">f+++++++++ src/main.go", Line{Outbound, "src/main.go"}},
		{">f.st...... dir/with space.txt", Line{Outbound, "dir/with space.txt"}},
		{"<f b.txt", Line{Inbound, "b.txt"}},
		{"<f+++++++++ outputs/run1/model.bin", Line{Inbound, "outputs/run1/model.bin"}},
		{"*deleting c.txt", Line{Deleted, "c.txt"}},
		{"*deleting   old/dir/", Line{Deleted, "old/dir/"}},
		{"cd+++++++++ newdir/", Line{Kind: Unrecognized}},
		{"      1,234,567  45%   12.34MB/s    0:00:12", Line{Kind: Unrecognized}},
		{"sending incremental file list", Line{Kind: Unrecognized}},
		{">f", Line{Kind: Unrecognized}},
		{">f+++++++++", Line{Kind: Unrecognized}},
		{"*deletingx", Line{Kind: Unrecognized}},
		{"", Line{Kind: Unrecognized}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyLine(tt.line))
		})
	}
}

func TestParseScenario(t *testing.T) {
	report, err := Parse(strings.NewReader(">f a.txt\n<f b.txt\n*deleting c.txt\n"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Received)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []Line{
		{Outbound, "a.txt"},
		{Inbound, "b.txt"},
		{Deleted, "c.txt"},
	}, report.Changes)
	assert.Equal(t, []string{"c.txt"}, report.Deletions())
}

func TestParseCarriageReturns(t *testing.T) {
	raw := "sending incremental file list\r\n" +
		">f+++++++++ one.txt\r" +
		"      1,024 100%    1.00MB/s    0:00:00\r" +
		"      2,048  50%    2.00MB/s    0:00:01\r\n" +
		">f+++++++++ two.txt\n" +
		"*deleting   gone.txt\r\n"

	report, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []Line{
		{Outbound, "one.txt"},
		{Outbound, "two.txt"},
		{Deleted, "gone.txt"},
	}, report.Changes)
	assert.Equal(t, report, ParseBytes([]byte(raw)))
}

func TestParseNoChanges(t *testing.T) {
	report := ParseBytes([]byte("sending incremental file list\n\nsent 120 bytes  received 12 bytes\n"))
	assert.True(t, report.Empty())
	assert.Empty(t, report.Changes)
}

func TestReportCountsMatchChanges(t *testing.T) {
	// mixed stream, including duplicates and noise
	var sb strings.Builder
	for i := range 500 {
		switch i % 5 {
		case 0:
			fmt.Fprintf(&sb, ">f+++++++++ out/%d\n", i)
		case 1:
			fmt.Fprintf(&sb, "<f.st...... in/%d\r", i)
		case 2:
			fmt.Fprintf(&sb, "*deleting del/%d\r\n", i)
		case 3:
			fmt.Fprintf(&sb, "   %d  %d%%  1.00MB/s\r", i, i%100)
		default:
			sb.WriteString(">f+++++++++ out/dup\n")
		}
	}

	report := ParseBytes([]byte(sb.String()))
	assert.Equal(t, len(report.Changes), report.Sent+report.Received+report.Deleted)
	assert.Equal(t, 200, report.Sent)
	assert.Equal(t, 100, report.Received)
	assert.Equal(t, 100, report.Deleted)
}

func TestParseLargeOutputIsLinear(t *testing.T) {
	var sb strings.Builder
	for i := range 300_000 {
		fmt.Fprintf(&sb, ">f+++++++++ data/file-%06d.bin\r      %d  10%%  1.00MB/s\n", i, i)
	}

	report, err := Parse(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, 300_000, report.Sent)
	assert.Equal(t, "data/file-299999.bin", report.Changes[len(report.Changes)-1].Path)
}

func TestScannerChunked(t *testing.T) {
	raw := ">f+++++++++ a.txt\n<f+++++++++ b.txt\r*deleting c.txt\n>f+++++++++ tail.txt"

	// feed one byte at a time; order and content must match the one-shot parse
	var s Scanner
	var got []Line
	for i := range len(raw) {
		s.Feed([]byte{raw[i]}, func(l Line) { got = append(got, l) })
	}
	require.Len(t, got, 3)

	s.Flush(func(l Line) { got = append(got, l) })
	assert.Equal(t, ParseBytes([]byte(raw)).Changes, got)

	// flush is a no-op once drained
	s.Flush(func(l Line) { t.Fatalf("unexpected line %v", l) })
}

func TestScannerDoesNotAliasChunk(t *testing.T) {
	var s Scanner
	var got []Line

	chunk := []byte(">f+++++++++ first.txt\n>f+++++++++ sec")
	s.Feed(chunk, func(l Line) { got = append(got, l) })
	copy(chunk, "XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")

	s.Feed([]byte("ond.txt\n"), func(l Line) { got = append(got, l) })
	assert.Equal(t, []Line{{Outbound, "first.txt"}, {Outbound, "second.txt"}}, got)
}
