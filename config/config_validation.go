package config

import (
	"math"
	"strings"
)

func clampInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func clampFloat(v, minV, maxV float64) float64 {
	if math.IsNaN(v) {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// Clamp enforces hard safety bounds. It mutates cfg in-place so callers can
// accept user-provided values while guaranteeing sane limits.
func Clamp(cfg *Config) {
	if cfg == nil {
		return
	}

	// --- server ---
	cfg.Server.ChatHistory = clampInt(cfg.Server.ChatHistory, 0, 500)
	cfg.Server.ChatPerSec = clampFloat(cfg.Server.ChatPerSec, 0.1, 50)
	cfg.Server.ChatBurst = clampInt(cfg.Server.ChatBurst, 1, 50)
	if strings.TrimSpace(cfg.Server.DefaultRoom) == "" {
		cfg.Server.DefaultRoom = "lobby"
	}

	// --- client ---
	cfg.Client.FrameHz = clampInt(cfg.Client.FrameHz, 10, 240)
	cfg.Client.Name = strings.TrimSpace(cfg.Client.Name)
	if cfg.Client.Name == "" {
		cfg.Client.Name = "guest"
	}
	if len(cfg.Client.Name) > 32 {
		cfg.Client.Name = cfg.Client.Name[:32]
	}
	if strings.TrimSpace(cfg.Client.Room) == "" {
		cfg.Client.Room = cfg.Server.DefaultRoom
	}

	// --- controller / camera ---
	cfg.Controller.Clamp()
	cfg.Camera.Clamp()

	// --- network ---
	cfg.Network.EmitIntervalMs = clampInt(cfg.Network.EmitIntervalMs, 10, 1000)
	cfg.Network.SmoothingRate = clampFloat(cfg.Network.SmoothingRate, 0.5, 60)
	cfg.Network.ChatCap = clampInt(cfg.Network.ChatCap, 1, 1000)

	// --- rtc ---
	cfg.RTC.WatchdogMs = clampInt(cfg.RTC.WatchdogMs, 500, 60000)
}
