package autotype

// Shift-state bits in the high byte of a VkKeyScanExW result.
const (
	shiftStateShift = 1 << iota
	shiftStateCtrl
	shiftStateAlt
)

const supportedShiftState = shiftStateShift | shiftStateCtrl | shiftStateAlt

// KeyMapping is the key and modifiers that produce one character under a
// keyboard layout.
type KeyMapping struct {
	VK    uint16
	Shift bool
	Ctrl  bool
	Alt   bool
}

// decodeKeyScan splits a VkKeyScanExW result. It reports false when the
// character has no key in the layout or needs a shift state other than
// Shift, Ctrl and Alt (Hankaku and the reserved bits).
func decodeKeyScan(res int16) (KeyMapping, bool) {
	if res == -1 {
		return KeyMapping{}, false
	}
	vk := uint16(res) & 0xFF
	state := (uint16(res) >> 8) & 0xFF
	if vk == 0 || vk == 0xFF || state&^supportedShiftState != 0 {
		return KeyMapping{}, false
	}
	return KeyMapping{
		VK:    vk,
		Shift: state&shiftStateShift != 0,
		Ctrl:  state&shiftStateCtrl != 0,
		Alt:   state&shiftStateAlt != 0,
	}, true
}
