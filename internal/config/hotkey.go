package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Hotkey is a parsed global shortcut such as "ctrl+alt+v".
type Hotkey struct {
	Ctrl  bool
	Alt   bool
	Shift bool
	Win   bool
	VK    uint16
}

// ParseHotkey parses "+"-separated modifiers followed by one key: a letter,
// a digit or F1-F24. At least one modifier is required so plain typing never
// triggers it.
func ParseHotkey(s string) (Hotkey, error) {
	var hk Hotkey
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "+")
	if len(parts) < 2 {
		return hk, fmt.Errorf("invalid hotkey %q: need at least one modifier and a key", s)
	}

	for _, p := range parts[:len(parts)-1] {
		switch strings.TrimSpace(p) {
		case "CTRL", "CONTROL":
			hk.Ctrl = true
		case "ALT":
			hk.Alt = true
		case "SHIFT":
			hk.Shift = true
		case "WIN", "SUPER":
			hk.Win = true
		default:
			return hk, fmt.Errorf("invalid hotkey %q: unknown modifier %q", s, p)
		}
	}

	vk, ok := keyCode(strings.TrimSpace(parts[len(parts)-1]))
	if !ok {
		return hk, fmt.Errorf("invalid hotkey %q: unknown key %q", s, parts[len(parts)-1])
	}
	hk.VK = vk
	return hk, nil
}

func keyCode(k string) (uint16, bool) {
	if len(k) == 1 {
		c := k[0]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return uint16(c), true
		}
		return 0, false
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(k, "F")); err == nil && strings.HasPrefix(k, "F") {
		if n >= 1 && n <= 24 {
			return uint16(0x70 + n - 1), true // VK_F1 = 0x70
		}
	}
	return 0, false
}

func (h Hotkey) String() string {
	var parts []string
	if h.Ctrl {
		parts = append(parts, "ctrl")
	}
	if h.Alt {
		parts = append(parts, "alt")
	}
	if h.Shift {
		parts = append(parts, "shift")
	}
	if h.Win {
		parts = append(parts, "win")
	}
	switch {
	case h.VK >= 0x70 && h.VK <= 0x87:
		parts = append(parts, fmt.Sprintf("f%d", h.VK-0x70+1))
	default:
		parts = append(parts, strings.ToLower(string(rune(h.VK))))
	}
	return strings.Join(parts, "+")
}

// RegisterHotKey modifier flags.
const (
	modAlt     = 0x0001
	modControl = 0x0002
	modShift   = 0x0004
	modWin     = 0x0008
)

// Modifiers returns the MOD_* flags of the shortcut.
func (h Hotkey) Modifiers() uint32 {
	var m uint32
	if h.Alt {
		m |= modAlt
	}
	if h.Ctrl {
		m |= modControl
	}
	if h.Shift {
		m |= modShift
	}
	if h.Win {
		m |= modWin
	}
	return m
}
