package autotype

import (
	"errors"
	"io"
	"log/slog"
	"unicode/utf16"

	"github.com/lxn/win"
)

var errFakeSend = errors.New("fake SendInput failure")

type fakeWindow struct {
	title   string
	noTitle bool
	visible bool
	thread  uint32
	pid     uint32
	next    win.HWND
}

// fakePlatform records injected events and serves windows from a map.
type fakePlatform struct {
	foreground win.HWND
	windows    map[win.HWND]fakeWindow
	images     map[uint32]string
	layouts    map[uint32]KeyboardLayout
	keyScan    func(ch uint16, layout KeyboardLayout) int16

	events        []KeyEvent
	failSend      func(ev KeyEvent) bool
	afterSend     func(p *fakePlatform)
	layoutQueries []uint32
	scanLayouts   []KeyboardLayout
	walked        int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		windows: make(map[win.HWND]fakeWindow),
		images:  make(map[uint32]string),
		layouts: make(map[uint32]KeyboardLayout),
		keyScan: usKeyScan,
	}
}

// usKeyScan approximates VkKeyScanExW for a US layout: letters, digits, a few
// shifted symbols. Everything else has no key.
func usKeyScan(ch uint16, _ KeyboardLayout) int16 {
	switch {
	case ch >= 'a' && ch <= 'z':
		return int16(ch - 'a' + 'A')
	case ch >= 'A' && ch <= 'Z':
		return int16(ch) | 0x0100
	case ch >= '0' && ch <= '9':
		return int16(ch)
	case ch == '!':
		return 0x0131
	case ch == '@':
		return 0x0132
	case ch == ' ':
		return 0x20
	}
	return -1
}

func (p *fakePlatform) ForegroundWindow() win.HWND { return p.foreground }

func (p *fakePlatform) NextWindow(hWnd win.HWND) win.HWND {
	p.walked++
	return p.windows[hWnd].next
}

func (p *fakePlatform) IsWindowVisible(hWnd win.HWND) bool { return p.windows[hWnd].visible }

func (p *fakePlatform) WindowThreadProcessID(hWnd win.HWND) (uint32, uint32) {
	w := p.windows[hWnd]
	return w.thread, w.pid
}

func (p *fakePlatform) WindowText(hWnd win.HWND, buf []uint16) {
	w := p.windows[hWnd]
	if w.noTitle {
		for i := range buf {
			buf[i] = 'x'
		}
		return
	}
	units := utf16.Encode([]rune(w.title))
	n := copy(buf[:len(buf)-1], units)
	buf[n] = 0
}

func (p *fakePlatform) KeyboardLayout(threadID uint32) KeyboardLayout {
	p.layoutQueries = append(p.layoutQueries, threadID)
	return p.layouts[threadID]
}

func (p *fakePlatform) VkKeyScan(ch uint16, layout KeyboardLayout) int16 {
	p.scanLayouts = append(p.scanLayouts, layout)
	return p.keyScan(ch, layout)
}

func (p *fakePlatform) SendInput(ev KeyEvent) error {
	if p.failSend != nil && p.failSend(ev) {
		return errFakeSend
	}
	p.events = append(p.events, ev)
	if p.afterSend != nil {
		p.afterSend(p)
	}
	return nil
}

func (p *fakePlatform) ProcessImagePath(pid uint32, buf []uint16) (int, error) {
	path, ok := p.images[pid]
	if !ok {
		return 0, errors.New("access denied")
	}
	return copy(buf, utf16.Encode([]rune(path))), nil
}

func (p *fakePlatform) RegisterHotkey(uint32, uint16, func()) (func() error, error) {
	return func() error { return nil }, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func down(vk uint16) KeyEvent { return KeyEvent{VK: vk} }
func up(vk uint16) KeyEvent   { return KeyEvent{VK: vk, Up: true} }

func releaseEvents() []KeyEvent {
	return []KeyEvent{up(win.VK_SHIFT), up(win.VK_MENU), up(win.VK_CONTROL), up(win.VK_CAPITAL)}
}

// letterEvents is the expected event sequence for lowercase ASCII text under
// usKeyScan.
func letterEvents(s string) []KeyEvent {
	var evs []KeyEvent
	for _, r := range s {
		vk := uint16(r - 'a' + 'A')
		evs = append(evs, down(vk), up(vk))
	}
	return evs
}
