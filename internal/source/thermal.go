package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v4/cpu"
)

// HostLoadSource прокси "температуры": суммарная загрузка CPU хоста и, если есть, состояние батареи.
// Это не градусы, детектор работает только с отклонениями.
type HostLoadSource struct {
	batteries func() ([]*battery.Battery, error)
}

func NewHostLoadSource() *HostLoadSource {
	return &HostLoadSource{batteries: battery.GetAll}
}

// Read загрузка CPU с момента предыдущего вызова
func (s *HostLoadSource) Read(ctx context.Context) (domain.ThermalReading, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return domain.ThermalReading{}, fmt.Errorf("%w: cpu percent: %v", domain.ErrSourceUnavailable, err)
	}
	if len(percents) == 0 {
		return domain.ThermalReading{}, fmt.Errorf("%w: cpu percent: empty result", domain.ErrSourceUnavailable)
	}

	r := domain.ThermalReading{
		Timestamp: time.Now(),
		CPULoad:   percents[0],
	}
	if s.batteries != nil {
		// батарея необязательна: на серверах её нет, частичные ошибки драйвера не роняют канал
		bats, _ := s.batteries()
		r.BatteryProxy = batteryProxy(bats)
	}
	return r, nil
}

// batteryProxy для разряжающейся батареи с зарядом ниже 50% даёт значение в шкале загрузки CPU:
// 25 + (100-заряд)/2, то есть от 50 до 75. Иначе nil.
func batteryProxy(bats []*battery.Battery) *float64 {
	var proxy *float64
	for _, b := range bats {
		if b == nil || b.Full <= 0 || b.State.Raw != battery.Discharging {
			continue
		}
		charge := 100 * b.Current / b.Full
		if charge >= 50 {
			continue
		}
		v := 25 + (100-charge)/2
		if proxy == nil || v > *proxy {
			proxy = &v
		}
	}
	return proxy
}

// StaticThermalSource по кругу отдаёт заданные значения загрузки
type StaticThermalSource struct {
	mu    sync.Mutex
	loads []float64
	next  int
	err   error
}

func NewStaticThermalSource(loads ...float64) *StaticThermalSource {
	return &StaticThermalSource{loads: loads}
}

// Fail переключает источник в состояние ошибки; nil восстанавливает
func (s *StaticThermalSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticThermalSource) Read(ctx context.Context) (domain.ThermalReading, error) {
	if err := ctx.Err(); err != nil {
		return domain.ThermalReading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return domain.ThermalReading{}, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, s.err)
	}
	if len(s.loads) == 0 {
		return domain.ThermalReading{}, fmt.Errorf("%w: no readings configured", domain.ErrSourceUnavailable)
	}

	load := s.loads[s.next%len(s.loads)]
	s.next++
	return domain.ThermalReading{Timestamp: time.Now(), CPULoad: load}, nil
}
