package dobot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"plant_scan/pose"
)

// Reply is one dashboard response: "ErrorID,{values},Command(args);".
type Reply struct {
	ErrorID int
	Values  string
	Command string
	Raw     string
}

// CommandError is returned for replies carrying a non-zero ErrorID.
type CommandError struct {
	ErrorID int
	Command string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("controller rejected %s with error id %d", e.Command, e.ErrorID)
}

var intRe = regexp.MustCompile(`-?\d+`)

// ParseReply splits a raw dashboard line. Replies without braces are rejected.
func ParseReply(raw string) (Reply, error) {
	raw = strings.TrimSpace(raw)
	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return Reply{}, errors.Errorf("malformed reply %q", raw)
	}
	id, err := strconv.Atoi(strings.TrimSpace(raw[:comma]))
	if err != nil {
		return Reply{}, errors.Wrapf(err, "malformed error id in %q", raw)
	}
	open := strings.IndexByte(raw, '{')
	closing := strings.LastIndexByte(raw, '}')
	if open < 0 || closing < open {
		return Reply{}, errors.Errorf("malformed reply %q", raw)
	}
	cmd := strings.TrimSpace(raw[closing+1:])
	cmd = strings.TrimPrefix(cmd, ",")
	cmd = strings.TrimSuffix(cmd, ";")
	return Reply{
		ErrorID: id,
		Values:  raw[open+1 : closing],
		Command: cmd,
		Raw:     raw,
	}, nil
}

// Err converts a non-zero ErrorID into a *CommandError.
func (r Reply) Err() error {
	if r.ErrorID == 0 {
		return nil
	}
	return &CommandError{ErrorID: r.ErrorID, Command: r.Command}
}

func (r Reply) Coord6() (pose.Coord6, error) {
	return pose.ParseCoord6(r.Raw)
}

// Ints returns every integer inside the value group, in order.
func (r Reply) Ints() []int {
	var out []int
	for _, s := range intRe.FindAllString(r.Values, -1) {
		v, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func formatArgs(vals ...float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strings.Join(parts, ",")
}
