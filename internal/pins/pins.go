// Package pins holds the board's fixed pin catalogs.
package pins

// S is the ordered list of the 16 digital input pins.
var S = []int{38, 40, 42, 44, 46, 48, 50, 52, 53, 39, 37, 35, 33, 31, 29, 27}

// P is the ordered list of the 32 digital output pins.
var P = []int{
	36, 34, 32, 30, 28, 26, 24, 22, 13, 12, 11, 10, 9, 8, 7, 6,
	5, 4, 3, 2, 45, 47, 14, 15, 16, 17, 18, 19, 49, 51, 23, 25,
}

// A is the ordered list of the 16 analog channel indices.
var A = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

// IsP reports whether pin is a known output pin.
func IsP(pin int) bool {
	for _, p := range P {
		if p == pin {
			return true
		}
	}
	return false
}

// IsS reports whether pin is a known input pin.
func IsS(pin int) bool {
	for _, s := range S {
		if s == pin {
			return true
		}
	}
	return false
}
