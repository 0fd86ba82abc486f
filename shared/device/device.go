package device

type Class string

const (
	Mobile  Class = "mobile"
	Tablet  Class = "tablet"
	Desktop Class = "desktop"
)

func ClassOf(width int) Class {
	switch {
	case width < 768:
		return Mobile
	case width < 1024:
		return Tablet
	default:
		return Desktop
	}
}

// ViewportBucket groups widths for low-cardinality reporting.
func ViewportBucket(width int) string {
	switch {
	case width < 480:
		return "0-479"
	case width < 768:
		return "480-767"
	case width < 1024:
		return "768-1023"
	case width < 1440:
		return "1024-1439"
	default:
		return "1440+"
	}
}
