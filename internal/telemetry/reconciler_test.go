/*
telemetry - Reconciling WalkingPad counters across resets.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package telemetry

import (
	"math/rand"
	"testing"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelta(t *testing.T) {
	assert.Equal(t, uint32(0), Delta(0, 0))
	assert.Equal(t, uint32(30), Delta(20, 50))
	assert.Equal(t, uint32(50), Delta(500, 50))
	assert.Equal(t, uint32(0), Delta(500, 0))
}

func TestCounterResetCountsFromZero(t *testing.T) {
	resets := []string{}
	r := &Reconciler{OnCounterReset: func(c string) { resets = append(resets, c) }}

	stats := r.Apply(device.Status{Distance: 500, Steps: 700, Speed: 25})
	assert.InDelta(t, 5.0, stats.DistanceKm, 1e-9)
	assert.Equal(t, uint64(700), stats.Steps)
	assert.InDelta(t, 2.5, stats.SpeedKmh, 1e-9)

	// The pad rebooted, only the new 50 counts.
	stats = r.Apply(device.Status{Distance: 50, Steps: 60, Speed: 20})
	assert.InDelta(t, 5.5, stats.DistanceKm, 1e-9)
	assert.Equal(t, uint64(760), stats.Steps)
	assert.InDelta(t, 2.0, stats.SpeedKmh, 1e-9)

	dist, steps := r.Baseline()
	assert.Equal(t, uint32(50), dist)
	assert.Equal(t, uint32(60), steps)
	assert.Equal(t, []string{"distance", "steps"}, resets)
}

func TestStatsNeverDecrease(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	r := &Reconciler{}
	prev := Stats{}
	for i := 0; i < 1000; i++ {
		st := device.Status{
			Distance: uint32(rnd.Intn(2000)),
			Steps:    uint32(rnd.Intn(5000)),
			Speed:    uint32(rnd.Intn(61)),
		}
		stats := r.Apply(st)
		require.GreaterOrEqual(t, stats.DistanceKm, prev.DistanceKm)
		require.GreaterOrEqual(t, stats.Steps, prev.Steps)
		prev = stats
	}
}

func TestResetKeepsBaseline(t *testing.T) {
	r := &Reconciler{}
	r.Apply(device.Status{Distance: 120, Steps: 300})
	r.Reset()
	assert.Equal(t, Stats{}, r.Stats())

	stats := r.Apply(device.Status{Distance: 130, Steps: 310, Speed: 30})
	assert.InDelta(t, 0.1, stats.DistanceKm, 1e-9)
	assert.Equal(t, uint64(10), stats.Steps)
}

func TestCalories(t *testing.T) {
	stats := Stats{DistanceKm: 1.609344}
	assert.InDelta(t, 95.0, stats.CaloriesKcal(), 0.01)
	assert.Equal(t, 0.0, Stats{}.CaloriesKcal())
}
