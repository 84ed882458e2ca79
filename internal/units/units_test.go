package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "half", input: "0.5", want: "500000000000000000"},
		{name: "integer", input: "2", want: "2000000000000000000"},
		{name: "leading dot", input: ".25", want: "250000000000000000"},
		{name: "trailing dot", input: "3.", want: "3000000000000000000"},
		{name: "zero", input: "0", want: "0"},
		{name: "one wei", input: "0.000000000000000001", want: "1"},
		{name: "whitespace", input: " 1.5 ", want: "1500000000000000000"},
		{name: "too precise", input: "0.0000000000000000001", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "dot only", input: ".", wantErr: true},
		{name: "letters", input: "1e18", wantErr: true},
		{name: "two dots", input: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wei, err := ParseEther(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, wei.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.5", FormatEther(big.NewInt(500000000000000000)))
	assert.Equal(t, "1", FormatEther(big.NewInt(1000000000000000000)))
	assert.Equal(t, "0", FormatEther(big.NewInt(0)))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	assert.Equal(t, "0", FormatEther(nil))
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.5", "12.345", "0.000000000000000007", "100"} {
		wei, err := ParseEther(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatEther(wei))
	}
}

func TestTotalDue(t *testing.T) {
	price, err := ParseEther("0.5")
	require.NoError(t, err)

	assert.Equal(t, "1500000000000000000", TotalDue(price, 3).String())
	assert.Equal(t, "0", TotalDue(price, 0).String())

	// 截断规则下总价与整数乘法一致，不会多付或少付
	odd := big.NewInt(333333333333333333)
	expected := new(big.Int).Mul(odd, big.NewInt(7))
	assert.Equal(t, expected.String(), TotalDue(odd, 7).String())
}

func TestToWeiTruncates(t *testing.T) {
	third := big.NewRat(1, 3)
	assert.Equal(t, "333333333333333333", ToWei(third).String())
}
