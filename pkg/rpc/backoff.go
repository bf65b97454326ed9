package rpc

import "time"

// BackoffConfig конфигурация задержки переподключения
type BackoffConfig struct {
	Initial time.Duration // Начальная задержка
	Step    time.Duration // Шаг увеличения задержки
	Max     time.Duration // Задержка растет, пока меньше Max
	Period  int           // Задержка растет на попытках, кратных Period
}

// DefaultBackoffConfig возвращает конфигурацию по умолчанию: 1с, +1с на
// каждой десятой попытке, пока задержка меньше 3с
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial: 1000 * time.Millisecond,
		Step:    1000 * time.Millisecond,
		Max:     3000 * time.Millisecond,
		Period:  10,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.Initial <= 0 {
		c.Initial = def.Initial
	}
	if c.Step <= 0 {
		c.Step = def.Step
	}
	if c.Max <= 0 {
		c.Max = def.Max
	}
	if c.Period <= 0 {
		c.Period = def.Period
	}
	return c
}

// Backoff счетчик попыток и текущая задержка переподключения.
// Не потокобезопасен, защищается мьютексом клиента.
type Backoff struct {
	cfg      BackoffConfig
	delay    time.Duration
	attempts int
}

// NewBackoff создает политику в начальном состоянии
func NewBackoff(cfg BackoffConfig) *Backoff {
	b := &Backoff{cfg: cfg.withDefaults()}
	b.Reset()
	return b
}

// Reset сбрасывает счетчик и задержку. Вызывается при открытии соединения.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.delay = b.cfg.Initial
}

// Next применяет политику к очередному закрытию соединения и возвращает
// задержку перед переподключением. Рост проверяется до увеличения счетчика,
// поэтому первое же закрытие поднимает задержку на шаг.
func (b *Backoff) Next() time.Duration {
	if b.delay < b.cfg.Max && b.attempts%b.cfg.Period == 0 {
		b.delay += b.cfg.Step
	}
	d := b.delay
	b.attempts++
	return d
}

// Delay возвращает текущую задержку
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Attempts возвращает количество закрытий с момента последнего открытия
func (b *Backoff) Attempts() int {
	return b.attempts
}
