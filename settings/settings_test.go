package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validMaster() Master {
	return Master{
		Range:     [2][2]float64{{0.1, 0.4}, {1.7, 2.0}},
		Lockpoint: 1.8,
		Enabled:   true,
		PID:       PID{P: 0.1, I: 0.01, Limit: [2]float64{-0.15, 0.15}},
		Dec:       16,
	}
}

func TestValidateAcceptsGoodMaster(t *testing.T) {
	m := validMaster()
	s := NodeSettings{Master: &m}
	require.NoError(t, s.Validate(3.0))
}

func TestValidateRejectsOutOfOrderRange(t *testing.T) {
	m := validMaster()
	m.Range[0][0], m.Range[0][1] = 0.4, 0.1
	s := NodeSettings{Master: &m}
	require.ErrorIs(t, s.Validate(3.0), ErrInvalidRange)
}

func TestValidateRejectsLockpointOutsideRange(t *testing.T) {
	m := validMaster()
	m.Lockpoint = 0.2 // inside first sub-interval, not second
	s := NodeSettings{Master: &m}
	require.ErrorIs(t, s.Validate(3.0), ErrLockpointInvalid)
}

func TestValidateRejectsBadPIDLimit(t *testing.T) {
	m := validMaster()
	m.PID.Limit = [2]float64{0.2, -0.2}
	s := NodeSettings{Master: &m}
	require.ErrorIs(t, s.Validate(3.0), ErrInvalidPIDLimit)
}

func TestCheckDec(t *testing.T) {
	require.NoError(t, CheckDec(1))
	require.NoError(t, CheckDec(16))
	require.NoError(t, CheckDec(512))
	require.ErrorIs(t, CheckDec(0), ErrInvalidDec)
	require.ErrorIs(t, CheckDec(3), ErrInvalidDec)
	require.ErrorIs(t, CheckDec(1024), ErrInvalidDec)
}

func TestRescaleMultipliesRangesAndLockpoints(t *testing.T) {
	m := validMaster()
	slave := Laser{Range: [2]float64{0.5, 0.9}, Lockpoint: 0.7}
	s := NodeSettings{Master: &m, Slave1: &slave}

	s.Rescale(4)
	require.InDelta(t, 0.4, s.Master.Range[0][0], 1e-9)
	require.InDelta(t, 1.6, s.Master.Range[0][1], 1e-9)
	require.InDelta(t, 6.8, s.Master.Range[1][0], 1e-9)
	require.InDelta(t, 7.2, s.Master.Lockpoint, 1e-9)
	require.InDelta(t, 2.0, s.Slave1.Range[0], 1e-9)
	require.InDelta(t, 2.8, s.Slave1.Lockpoint, 1e-9)
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	m := validMaster()
	s := NodeSettings{Master: &m}.WithDefaults()

	require.NoError(t, store.Save("MasterRP", s))
	got, err := store.Load("MasterRP")
	require.NoError(t, err)
	require.Equal(t, s.Master.Lockpoint, got.Master.Lockpoint)
	require.Equal(t, DefaultOutlierThresholdMS, got.OutlierThresholdMS)
}

func TestFileStoreFallsBackToDefaultTemplate(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	m := validMaster()
	s := NodeSettings{Master: &m}.WithDefaults()
	require.NoError(t, store.Save("Default", s))

	got, err := store.Load("SomeOtherLabel")
	require.NoError(t, err)
	require.Equal(t, s.Master.Lockpoint, got.Master.Lockpoint)

	require.NoFileExists(t, filepath.Join(dir, "SomeOtherLabel.json"))
	_, err = os.Stat(filepath.Join(dir, "Default.json"))
	require.NoError(t, err)
}
