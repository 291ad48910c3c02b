package ledger

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		full    bool
		wantErr bool
	}{
		{in: "100000", want: "100000"},
		{in: " 42 ", want: "42"},
		{in: "max", full: true},
		{in: "FULL", full: true},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			if tt.full {
				assert.True(t, IsFull(got))
				return
			}
			assert.Equal(t, tt.want, FormatAmount(got))
		})
	}
}

func TestFullIsACopy(t *testing.T) {
	f := Full()
	f.SetUint64(1)
	assert.True(t, IsFull(Full()))
	assert.False(t, IsFull(nil))
}

func TestRateFromAnnualPercent(t *testing.T) {
	rate, err := RateFromAnnualPercent(decimal.NewFromInt(5), DefaultPrecisionFactor())
	require.NoError(t, err)
	assert.Equal(t, "1585489599", rate.Dec())

	apr := AnnualPercent(rate, DefaultPrecisionFactor())
	assert.True(t, apr.Equal(decimal.NewFromInt(5)), apr.String())

	_, err = RateFromAnnualPercent(decimal.NewFromInt(-1), DefaultPrecisionFactor())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestElapsedSeconds(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, uint64(0), elapsedSeconds(time.Time{}, base))
	assert.Equal(t, uint64(0), elapsedSeconds(base, base.Add(-time.Second)))
	assert.Equal(t, uint64(0), elapsedSeconds(base, base.Add(999*time.Millisecond)))
	assert.Equal(t, uint64(3600), elapsedSeconds(base, base.Add(time.Hour)))
}

func TestDerivedBalanceOverflow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	huge := new(uint256.Int).Rsh(Full(), 1)

	acct := &models.Account{Principal: *uint256.NewInt(1), Rate: *huge, LastAccrualAt: base}
	_, err := derivedBalance(acct, DefaultPrecisionFactor(), base.Add(3*time.Second))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	acct = &models.Account{Principal: *Full(), Rate: *uint256.NewInt(1), LastAccrualAt: base}
	_, err = derivedBalance(acct, DefaultPrecisionFactor(), base.Add(time.Second))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	b, err := derivedBalance(acct, DefaultPrecisionFactor(), base)
	require.NoError(t, err)
	assert.True(t, IsFull(b))
}
