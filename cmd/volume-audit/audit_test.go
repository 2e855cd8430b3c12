package main

import (
	"testing"

	"github.com/born-ml/volume/backend/accel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_NoLeak(t *testing.T) {
	dev := accel.NewSimDevice(accel.DefaultSimConfig())
	defer dev.Close()
	ctx := accel.NewContext(dev)

	report, err := audit(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, report.Check())

	assert.Equal(t, report.Before.TotalMemoryUsage, report.AfterLast.TotalMemoryUsage)
	assert.Greater(t, report.AfterLast.PeakMemoryUsage, int64(0))
	assert.Greater(t, report.FirstLoss, float32(0))
}

func TestAudit_InvalidIterations(t *testing.T) {
	dev := accel.NewSimDevice(accel.DefaultSimConfig())
	defer dev.Close()

	_, err := audit(accel.NewContext(dev), 0)
	assert.Error(t, err)
}

func TestReport_Check(t *testing.T) {
	grown := Report{
		AfterFirst: accel.MemoryStats{TotalMemoryUsage: 10},
		AfterLast:  accel.MemoryStats{TotalMemoryUsage: 20},
	}
	assert.Error(t, grown.Check())

	leaked := Report{
		AfterFirst: accel.MemoryStats{TotalMemoryUsage: 10},
		AfterLast:  accel.MemoryStats{TotalMemoryUsage: 10},
	}
	assert.Error(t, leaked.Check())

	assert.NoError(t, Report{}.Check())
}

func TestOpenDevice(t *testing.T) {
	dev, err := openDevice("sim", 0)
	require.NoError(t, err)
	assert.Equal(t, "sim", dev.Name())
	require.NoError(t, dev.Close())

	_, err = openDevice("tpu", 0)
	assert.Error(t, err)
}
