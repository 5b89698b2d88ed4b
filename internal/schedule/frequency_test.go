package schedule

import (
	"testing"

	"medsched/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandFrequency_KnownCodes(t *testing.T) {
	tests := []struct {
		frequency string
		expected  []string
	}{
		{models.FreqOnceDaily, []string{"09:00"}},
		{models.FreqTwiceDaily, []string{"09:00", "21:00"}},
		{models.FreqThreeTimesDaily, []string{"08:00", "14:00", "20:00"}},
		{models.FreqFourTimesDaily, []string{"08:00", "12:00", "16:00", "20:00"}},
		{models.FreqEvery6Hours, []string{"06:00", "12:00", "18:00", "00:00"}},
		{models.FreqEvery8Hours, []string{"08:00", "16:00", "00:00"}},
		{models.FreqEvery12Hours, []string{"08:00", "20:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.frequency, func(t *testing.T) {
			slots := ExpandFrequency(tt.frequency)
			require.Len(t, slots, len(tt.expected))
			for i, s := range slots {
				assert.Equal(t, tt.expected[i], s.String())
			}
		})
	}
}

func TestExpandFrequency_UnknownCodesFallBackToDefault(t *testing.T) {
	// as_needed / custom / every_4_hours 无固定映射，统一回退默认槽位
	for _, frequency := range []string{
		models.FreqAsNeeded,
		models.FreqCustom,
		models.FreqEvery4Hours,
		"garbage",
		"",
	} {
		slots := ExpandFrequency(frequency)
		require.Len(t, slots, 1, "frequency %q", frequency)
		assert.Equal(t, DefaultSlot, slots[0])
		assert.Equal(t, "09:00", slots[0].String())
	}
}

func TestExpandFrequency_ReturnsCopy(t *testing.T) {
	slots := ExpandFrequency(models.FreqTwiceDaily)
	slots[0].Hour = 1

	again := ExpandFrequency(models.FreqTwiceDaily)
	assert.Equal(t, 9, again[0].Hour)
}
