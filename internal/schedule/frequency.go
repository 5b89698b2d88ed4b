package schedule

import (
	"medsched/internal/models"
)

// DefaultSlot 未识别频率代码的回退槽位
// as_needed / custom 等无法展开为固定时刻的代码统一落在这里，
// 不做完整的自定义排班引擎
var DefaultSlot = models.TimeOfDay{Hour: 9, Minute: 0}

// frequencySlots 频率代码到每日服药时刻的固定映射
var frequencySlots = map[string][]models.TimeOfDay{
	models.FreqOnceDaily:       {{Hour: 9, Minute: 0}},
	models.FreqTwiceDaily:      {{Hour: 9, Minute: 0}, {Hour: 21, Minute: 0}},
	models.FreqThreeTimesDaily: {{Hour: 8, Minute: 0}, {Hour: 14, Minute: 0}, {Hour: 20, Minute: 0}},
	models.FreqFourTimesDaily:  {{Hour: 8, Minute: 0}, {Hour: 12, Minute: 0}, {Hour: 16, Minute: 0}, {Hour: 20, Minute: 0}},
	models.FreqEvery6Hours:     {{Hour: 6, Minute: 0}, {Hour: 12, Minute: 0}, {Hour: 18, Minute: 0}, {Hour: 0, Minute: 0}},
	models.FreqEvery8Hours:     {{Hour: 8, Minute: 0}, {Hour: 16, Minute: 0}, {Hour: 0, Minute: 0}},
	models.FreqEvery12Hours:    {{Hour: 8, Minute: 0}, {Hour: 20, Minute: 0}},
}

// ExpandFrequency 将频率代码展开为当日服药时刻列表
// 总函数，永不失败：未识别的代码返回单个默认槽位
func ExpandFrequency(frequency string) []models.TimeOfDay {
	if slots, ok := frequencySlots[frequency]; ok {
		out := make([]models.TimeOfDay, len(slots))
		copy(out, slots)
		return out
	}
	return []models.TimeOfDay{DefaultSlot}
}
