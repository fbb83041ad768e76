package window

const hoursPerDay = 24

// floorDays converts hours to days rounding toward negative infinity.
// Used to push a negative lower bound earlier.
func floorDays(hours int) int {
	d := hours / hoursPerDay
	if hours%hoursPerDay != 0 && hours < 0 {
		d--
	}
	return d
}

// ceilDays converts hours to days rounding toward positive infinity.
// Used to push a positive lower bound or any upper bound later.
func ceilDays(hours int) int {
	d := hours / hoursPerDay
	if hours%hoursPerDay != 0 && hours > 0 {
		d++
	}
	return d
}

// delayDays is the day offset of the window start: negative delays floor,
// positive delays ceil.
func delayDays(delayHours int) int {
	if delayHours < 0 {
		return floorDays(delayHours)
	}
	return ceilDays(delayHours)
}

// windowDays is the window length in days, always rounded up.
func windowDays(windowHours int) int {
	return ceilDays(windowHours)
}

// upperDays is the day offset of the window end. It is the sum of the
// rounded delay and length, raised to the ceiling of the exact hour total
// when a floored negative delay would otherwise pull the end inside the
// hour window.
func upperDays(delayHours, windowHours int) int {
	total := delayDays(delayHours) + windowDays(windowHours)
	if exact := ceilDays(delayHours + windowHours); exact > total {
		return exact
	}
	return total
}
