package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The four message shapes of the wire protocol (spec §6). Every line is
// newline-terminated ASCII, fields are space-separated, and the correction
// field (where present) is always the last token on the line.
const (
	KindSync      = "sync"
	KindFollowUp  = "follow_up"
	KindDelayReq  = "delay_req"
	KindDelayResp = "delay_resp"
)

// Kind returns the first whitespace-separated token of line, i.e. the
// message type.
func Kind(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}

// Fields splits line on whitespace, e.g. the space-separated slave names
// in a preliminary subtree announcement.
func Fields(line string) []string {
	return strings.Fields(line)
}

// Field returns the i-th whitespace-separated token of line, or "" if it
// doesn't exist.
func Field(line string, i int) string {
	fields := strings.Fields(line)
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// LastField parses the final space-separated token of line as a decimal
// number. A malformed or missing field is treated as 0, matching the
// switch's error-handling policy for corrupt correction fields (spec §7).
func LastField(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0
	}
	return v
}

// RewriteLastField re-serializes line with its final token replaced by
// value, formatted as a plain decimal. It is a no-op on an empty line.
func RewriteLastField(line string, value float64) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return line
	}
	fields[len(fields)-1] = formatFloat(value)
	return strings.Join(fields, " ")
}

// FormatFloat renders a wire-protocol decimal field.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloat(v float64) string {
	return FormatFloat(v)
}

// FormatSync renders a sync message.
func FormatSync() string {
	return KindSync
}

// FormatFollowUp renders a follow_up message carrying T1 and the
// accumulated sync-path residence correction.
func FormatFollowUp(t1, correction float64) string {
	return fmt.Sprintf("%s %s %s", KindFollowUp, formatFloat(t1), formatFloat(correction))
}

// FormatDelayReq renders a delay_req message for the named slave.
func FormatDelayReq(slave string, correction float64) string {
	return fmt.Sprintf("%s %s %s", KindDelayReq, slave, formatFloat(correction))
}

// FormatDelayResp renders a delay_resp message naming the slave, carrying
// the grandmaster's T4 arrival time and the accumulated delay-path
// correction.
func FormatDelayResp(slave string, t4, correction float64) string {
	return fmt.Sprintf("%s %s %s %s", KindDelayResp, slave, formatFloat(t4), formatFloat(correction))
}

// UnixSeconds converts a wall-clock time into the float64-seconds
// representation carried on the wire, matching the reference
// implementation's use of time.time().
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
