package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ChannelID идентифицирует канал: пару источник + анализатор
type ChannelID string

const (
	ChannelAudio   ChannelID = "audio"
	ChannelThermal ChannelID = "thermal"
	ChannelEmail   ChannelID = "email"
)

// AllChannels фиксированный порядок каналов в снапшоте
var AllChannels = []ChannelID{ChannelAudio, ChannelThermal, ChannelEmail}

// FrequencyBand диапазон частот в герцах
type FrequencyBand struct {
	LowHz  float64 `json:"low_hz"`
	HighHz float64 `json:"high_hz"`
}

// Contains проверяет попадание частоты в диапазон (границы включительно)
func (b FrequencyBand) Contains(hz float64) bool {
	return hz >= b.LowHz && hz <= b.HighHz
}

// UltrasonicBand диапазон предполагаемых ультразвуковых маяков
var UltrasonicBand = FrequencyBand{LowHz: 15000, HighHz: 20000}

// SampleFrame кадр аудио: амплитуды в [-1, 1], при Channels > 1 каналы чередуются
type SampleFrame struct {
	Samples    []float64
	Channels   int
	SampleRate int
	CapturedAt time.Time
}

// ThermalReading показания прокси нагрузки. Это не градусы.
// BatteryProxy задан, только когда батарея разряжается ниже половины; шкала та же, что у CPULoad.
type ThermalReading struct {
	Timestamp    time.Time `json:"timestamp"`
	CPULoad      float64   `json:"cpu_load"`
	BatteryProxy *float64  `json:"battery_proxy,omitempty"`
}

// Load значение, которое видит детектор: большее из загрузки CPU и батарейного прокси
func (r ThermalReading) Load() float64 {
	if r.BatteryProxy != nil && *r.BatteryProxy > r.CPULoad {
		return *r.BatteryProxy
	}
	return r.CPULoad
}

// RuleID метка сработавшего эвристического правила
type RuleID string

// URLFinding результат оценки одного URL
type URLFinding struct {
	URL       string   `json:"url"`
	Domain    string   `json:"domain"`
	Flags     []RuleID `json:"flags"`
	Score     float64  `json:"score"`
	Malformed bool     `json:"malformed,omitempty"`
}

// ChannelScore последняя оценка канала (0-100)
type ChannelScore struct {
	Channel   ChannelID `json:"channel"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Warmup    bool      `json:"warmup,omitempty"`
}

// ChannelStatus различает "нет активности" и "канал недоступен"
type ChannelStatus string

const (
	StatusIdle        ChannelStatus = "idle"
	StatusActive      ChannelStatus = "active"
	StatusUnavailable ChannelStatus = "unavailable"
)

// ChannelState состояние канала внутри снапшота
type ChannelState struct {
	Channel   ChannelID     `json:"channel"`
	Status    ChannelStatus `json:"status"`
	Score     float64       `json:"score"`
	Warmup    bool          `json:"warmup,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
	Error     string        `json:"error,omitempty"`
}

// RiskBand грубая классификация композитной оценки
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// BandFor выводит уровень риска из оценки: 0-30 low, 31-70 medium, 71-100 high
func BandFor(score float64) RiskBand {
	rounded := math.Round(score)
	switch {
	case rounded <= 30:
		return RiskLow
	case rounded <= 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ThreatSnapshot неизменяемая картина угроз на момент публикации
type ThreatSnapshot struct {
	SessionID      uuid.UUID      `json:"session_id"`
	Sequence       uint64         `json:"sequence"`
	Channels       []ChannelState `json:"channels"`
	Composite      float64        `json:"composite"`
	ActiveChannels int            `json:"active_channels"`
	Band           RiskBand       `json:"band"`
	Findings       []URLFinding   `json:"findings"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Channel возвращает состояние канала из снапшота
func (s ThreatSnapshot) Channel(id ChannelID) (ChannelState, bool) {
	for _, ch := range s.Channels {
		if ch.Channel == id {
			return ch, true
		}
	}
	return ChannelState{}, false
}

// Clone глубокая копия, чтобы потребители не могли изменить опубликованный снапшот
func (s ThreatSnapshot) Clone() ThreatSnapshot {
	out := s
	out.Channels = append([]ChannelState(nil), s.Channels...)
	out.Findings = make([]URLFinding, len(s.Findings))
	for i, f := range s.Findings {
		f.Flags = append([]RuleID(nil), f.Flags...)
		out.Findings[i] = f
	}
	return out
}

// ScanResult результат ручного сканирования писем
type ScanResult struct {
	Findings []URLFinding    `json:"findings"`
	Score    ChannelScore    `json:"score"`
	Snapshot *ThreatSnapshot `json:"snapshot,omitempty"`
}

// SnapshotRecord запись журнала снапшотов
type SnapshotRecord struct {
	SessionID uuid.UUID      `json:"session_id" db:"session_id"`
	Sequence  uint64         `json:"sequence" db:"sequence"`
	Composite float64        `json:"composite" db:"composite"`
	Band      RiskBand       `json:"band" db:"risk_band"`
	Snapshot  ThreatSnapshot `json:"snapshot" db:"payload"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// NewSnapshotRecord строит запись журнала из снапшота
func NewSnapshotRecord(s ThreatSnapshot) *SnapshotRecord {
	return &SnapshotRecord{
		SessionID: s.SessionID,
		Sequence:  s.Sequence,
		Composite: s.Composite,
		Band:      s.Band,
		Snapshot:  s.Clone(),
		CreatedAt: s.CreatedAt,
	}
}
