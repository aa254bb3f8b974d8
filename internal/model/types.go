package model

import (
	"fmt"
	"strings"
)

// Variant names one of the alternate day/night playlists.
type Variant string

const (
	VariantDay   Variant = "day"
	VariantNight Variant = "night"
)

func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case VariantDay:
		return VariantDay, nil
	case VariantNight:
		return VariantNight, nil
	default:
		return "", fmt.Errorf("invalid variant: %q", raw)
	}
}

func (v Variant) Valid() bool {
	return v == VariantDay || v == VariantNight
}

func (v Variant) Opposite() Variant {
	if v == VariantDay {
		return VariantNight
	}
	return VariantDay
}

// Daytime maps the variant to the boolean key used by the store.
func (v Variant) Daytime() bool {
	return v == VariantDay
}

func VariantFromDaytime(daytime bool) Variant {
	if daytime {
		return VariantDay
	}
	return VariantNight
}

// Position says on which side of the target a moved item lands.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

func ParsePosition(raw string) (Position, error) {
	switch Position(strings.ToLower(strings.TrimSpace(raw))) {
	case Before:
		return Before, nil
	case After:
		return After, nil
	default:
		return "", fmt.Errorf("invalid position: %q", raw)
	}
}

func (p Position) Valid() bool {
	return p == Before || p == After
}

// SchedulerState is reported by the interval scheduler.
type SchedulerState string

const (
	SchedulerRunning SchedulerState = "running"
	SchedulerStopped SchedulerState = "stopped"
)

// ImageExtensions lists the file extensions accepted when scanning a
// backgrounds directory.
var ImageExtensions = map[string]struct{}{
	".jpg":      {},
	".jpeg":     {},
	".png":      {},
	".gif":      {},
	".webp":     {},
	".bmp":      {},
	".tiff":     {},
	".tif":      {},
	".avif":     {},
	".tga":      {},
	".pnm":      {},
	".pbm":      {},
	".pgm":      {},
	".ppm":      {},
	".farbfeld": {},
	".ff":       {},
}

func IsImagePath(path string) bool {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return false
	}
	_, ok := ImageExtensions[strings.ToLower(path[idx:])]
	return ok
}
