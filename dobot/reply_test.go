package dobot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		id      int
		values  string
		command string
	}{
		{"empty values", "0,{},EnableRobot();", 0, "", "EnableRobot()"},
		{"angles", "0,{1.0,2.0,3.0,4.0,5.0,6.0},GetAngle();", 0, "1.0,2.0,3.0,4.0,5.0,6.0", "GetAngle()"},
		{"nested error ids", "0,{[[22,4097],[],[]]},GetErrorID();", 0, "[[22,4097],[],[]]", "GetErrorID()"},
		{"rejected", "-1,{},InverseSolution(1,2,3,4,5,6,0,0);", -1, "", "InverseSolution(1,2,3,4,5,6,0,0)"},
		{"trailing newline", "0,{},Continue();\n", 0, "", "Continue()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReply(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.id, r.ErrorID)
			assert.Equal(t, tt.values, r.Values)
			assert.Equal(t, tt.command, r.Command)
		})
	}

	for _, bad := range []string{"", "garbage", "x,{},Foo();", "0,no braces"} {
		_, err := ParseReply(bad)
		assert.Error(t, err, bad)
	}
}

func TestReplyErrAndInts(t *testing.T) {
	r, err := ParseReply("-2,{},MovJ();")
	require.NoError(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, r.Err(), &cmdErr)
	assert.Equal(t, -2, cmdErr.ErrorID)
	assert.Equal(t, "MovJ()", cmdErr.Command)

	r, err = ParseReply("0,{[[-2],[4112]]},GetErrorID();")
	require.NoError(t, err)
	assert.NoError(t, r.Err())
	assert.Equal(t, []int{-2, 4112}, r.Ints())
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "1.0000,-2.5000,0.0000", formatArgs(1, -2.5, 0))
}
