package weights

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wallradar/internal/domain"
)

func TestAdaptiveSelectsPercentileForLongTails(t *testing.T) {
	// Tight cluster plus one enormous outlier: range dwarfs the IQR.
	notionals := []float64{100, 102, 104, 106, 108, 110, 112, 114, 116, 5000}
	th := AdaptiveCategorize(notionals)
	assert.Equal(t, MethodPercentile, th.Method)
	assert.Less(t, th.GoldCutoff, th.DiamondCutoff)
}

func TestAdaptiveSelectsStatisticalForSymmetricBatches(t *testing.T) {
	// Symmetric around 100: mean and median coincide.
	notionals := []float64{80, 90, 95, 100, 100, 105, 110, 120}
	th := AdaptiveCategorize(notionals)
	assert.Equal(t, MethodStatistical, th.Method)
	assert.Less(t, th.GoldCutoff, th.DiamondCutoff)
}

func TestAdaptiveIsDeterministic(t *testing.T) {
	notionals := []float64{300, 80, 120, 950, 410, 75, 220, 640}
	a := AdaptiveCategorize(notionals)
	b := AdaptiveCategorize(notionals)
	assert.Equal(t, a, b)

	// Input order must not matter.
	reversed := []float64{640, 220, 75, 410, 950, 120, 80, 300}
	c := AdaptiveCategorize(reversed)
	assert.Equal(t, a, c)
}

func TestAdaptiveDistributionCoversWholeBatch(t *testing.T) {
	notionals := []float64{50, 75, 100, 200, 400, 800, 1600, 3200}
	th := AdaptiveCategorize(notionals)
	dist := th.Distribution(notionals)
	total := dist[domain.CategoryBasic] + dist[domain.CategoryGold] + dist[domain.CategoryDiamond]
	assert.Equal(t, len(notionals), total)
}

func TestAdaptiveEmptyBatch(t *testing.T) {
	th := AdaptiveCategorize(nil)
	assert.Equal(t, MethodQuartile, th.Method)
	assert.Zero(t, th.Samples)
}
