package ring

// Level is the backpressure state of a ring.
type Level int

const (
	// LevelNormal means the consumer is comfortably ahead of the guard gap.
	LevelNormal Level = iota
	// LevelWarning means unread data is within the warning threshold of the
	// guard gap.
	LevelWarning
	// LevelOverwriting means appends have started dropping unread records.
	// Only the consumer clears it.
	LevelOverwriting
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelOverwriting:
		return "overwriting"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LevelChangeFunc is called when a ring moves between levels. It runs with
// the ring state locked and must not call back into the ring.
type LevelChangeFunc func(region string, from, to Level)

// levelFor classifies an unread distance without considering drops.
func levelFor(r Region, distance int) Level {
	if distance >= r.Capacity()-r.WarningThresholdPages {
		return LevelWarning
	}
	return LevelNormal
}

// afterAppend returns the level following an append that dropped n records.
func afterAppend(r Region, current Level, distance, dropped int) Level {
	if dropped > 0 || current == LevelOverwriting {
		return LevelOverwriting
	}
	return levelFor(r, distance)
}

// afterRead returns the level following a consumer read.
func afterRead(r Region, distance int) Level {
	return levelFor(r, distance)
}
