package domain

import "time"

type CapacityClass string

const (
	CapacityLocal  CapacityClass = "local"
	CapacityRemote CapacityClass = "remote"
)

type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthBlacklisted Health = "blacklisted"
)

type Resource struct {
	ID                  string
	Class               CapacityClass
	Slots               int
	TotalMemoryMB       int
	AvailableMemoryMB   int
	InFlight            int
	Health              Health
	BlacklistUntil      time.Time
	ConsecutiveFailures int
	LastUsedAt          time.Time
}

func NewResource(id string, class CapacityClass, totalMemoryMB, slots int) Resource {
	if slots < 1 {
		slots = 1
	}
	return Resource{
		ID:                id,
		Class:             class,
		Slots:             slots,
		TotalMemoryMB:     totalMemoryMB,
		AvailableMemoryMB: totalMemoryMB,
		Health:            HealthHealthy,
	}
}

// Fits reports whether the resource has a free slot and enough memory.
func (r Resource) Fits(memoryMB int) bool {
	return r.InFlight < r.Slots && r.AvailableMemoryMB >= memoryMB
}

func (r Resource) BlacklistElapsed(now time.Time) bool {
	return r.Health == HealthBlacklisted && !now.Before(r.BlacklistUntil)
}
