package devserver

import (
	"time"
)

// LogItem is one prediction log entry
type LogItem struct {
	TSUTC      time.Time `json:"ts_utc"`
	Owner      string    `json:"owner"`
	TimeBand   string    `json:"time_band"`
	Sector     string    `json:"sector"`
	Size       string    `json:"size"`
	Symbols    []string  `json:"symbols"`
	PredVol    *float64  `json:"pred_vol"`
	FakeRate   *float64  `json:"fake_rate"`
	Confidence *float64  `json:"confidence"`
	RecAction  string    `json:"rec_action"`
	Comment    string    `json:"comment"`
}

// Owners are the accounts the sample data rotates through
var Owners = []string{"共用", "学也", "正恵", "練習H", "練習M"}

var (
	timeBands = []string{"拡張", "プレ", "レギュラーam", "レギュラーpm", "アフター"}
	sectors   = []string{"Tech", "Energy", "Healthcare", "Financials"}
	sizes     = []string{"Large", "Mid", "Small", "Penny"}
	symbols   = []string{"AAPL", "MSFT", "NVDA", "TSLA"}
)

// SampleLogs generates n entries one minute apart going back from now.
// With an owner every entry belongs to it, otherwise owners rotate.
func SampleLogs(now time.Time, n int, owner string) []LogItem {
	items := make([]LogItem, 0, n)
	for i := 0; i < n; i++ {
		o := owner
		if o == "" {
			o = Owners[i%len(Owners)]
		}
		items = append(items, LogItem{
			TSUTC:      now.Add(-time.Duration(i) * time.Minute).UTC(),
			Owner:      o,
			TimeBand:   timeBands[i%len(timeBands)],
			Sector:     sectors[i%len(sectors)],
			Size:       sizes[i%len(sizes)],
			Symbols:    []string{symbols[i%len(symbols)]},
			PredVol:    ptr(0.012 + 0.005*float64(i%6)),
			FakeRate:   ptr(0.10 + 0.03*float64(i%5)),
			Confidence: ptr(0.40 + 0.08*float64(i%6)),
			RecAction:  "watch",
			Comment:    "sample",
		})
	}
	return items
}

func ptr(f float64) *float64 { return &f }
