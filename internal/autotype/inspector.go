package autotype

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf16"

	"github.com/lxn/win"
)

// WindowIdentity names a window by its owning executable and title.
type WindowIdentity struct {
	Executable string
	Title      string
}

// URL formats the identity as windowsapp://<executable>/<title>. Neither part
// is escaped, so titles containing "/" are passed through as is.
func (w WindowIdentity) URL() string {
	return FormatWindowURL(w.Executable, w.Title)
}

// FormatWindowURL builds the identity string, substituting UnknownExecutable
// for an empty executable name.
func FormatWindowURL(executable, title string) string {
	if executable == "" {
		executable = UnknownExecutable
	}
	return WindowURLScheme + executable + "/" + title
}

// Inspector resolves windows to titles and executables.
type Inspector struct {
	platform      Platform
	logger        *slog.Logger
	maxWindowWalk int
}

// NewInspector creates an inspector. maxWindowWalk caps the Z-order walk of
// NextWindow; values below 1 use DefaultMaxWindowWalk.
func NewInspector(platform Platform, logger *slog.Logger, maxWindowWalk int) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	if maxWindowWalk < 1 {
		maxWindowWalk = DefaultMaxWindowWalk
	}
	return &Inspector{
		platform:      platform,
		logger:        logger,
		maxWindowWalk: maxWindowWalk,
	}
}

// WindowTitle reads the title of hWnd. Titles longer than the buffer are
// truncated; malformed UTF-16 is replaced rather than rejected.
func (i *Inspector) WindowTitle(hWnd win.HWND) (string, error) {
	var buf [maxTextLength]uint16
	i.platform.WindowText(hWnd, buf[:])
	return decodeTerminated(buf[:])
}

// ActiveWindowTitle returns the title of the foreground window.
func (i *Inspector) ActiveWindowTitle() (string, error) {
	return i.WindowTitle(i.platform.ForegroundWindow())
}

// WindowExecutable returns the file name of the process owning hWnd. It
// reports false when the window has no owning process or the process cannot
// be opened, which is normal for elevated or protected processes.
func (i *Inspector) WindowExecutable(hWnd win.HWND) (string, bool) {
	_, pid := i.platform.WindowThreadProcessID(hWnd)
	if pid == 0 {
		return "", false
	}

	var buf [maxTextLength]uint16
	n, err := i.platform.ProcessImagePath(pid, buf[:])
	if err != nil {
		i.logger.Debug("Failed to get process image name",
			slog.Uint64("pid", uint64(pid)),
			slog.String("error", err.Error()))
		return "", false
	}
	n = min(max(n, 0), len(buf))

	return executableName(string(utf16.Decode(buf[:n]))), true
}

// Identity resolves hWnd to its executable and title. A missing executable
// is left empty.
func (i *Inspector) Identity(hWnd win.HWND) (WindowIdentity, error) {
	title, err := i.WindowTitle(hWnd)
	if err != nil {
		return WindowIdentity{}, fmt.Errorf("window %#x: %w", uintptr(hWnd), err)
	}
	exe, _ := i.WindowExecutable(hWnd)
	return WindowIdentity{Executable: exe, Title: title}, nil
}

// ActiveWindow identifies the foreground window.
func (i *Inspector) ActiveWindow() (WindowIdentity, error) {
	return i.Identity(i.platform.ForegroundWindow())
}

// ActiveWindowURL returns the identity string of the foreground window.
func (i *Inspector) ActiveWindowURL() (string, error) {
	id, err := i.ActiveWindow()
	if err != nil {
		return "", err
	}
	return id.URL(), nil
}

// NextWindow identifies the first visible window below the foreground window
// in Z-order.
func (i *Inspector) NextWindow() (WindowIdentity, error) {
	hWnd, err := i.nextVisibleWindow()
	if err != nil {
		return WindowIdentity{}, err
	}
	return i.Identity(hWnd)
}

// NextWindowURL returns the identity string of NextWindow.
func (i *Inspector) NextWindowURL() (string, error) {
	id, err := i.NextWindow()
	if err != nil {
		return "", err
	}
	return id.URL(), nil
}

func (i *Inspector) nextVisibleWindow() (win.HWND, error) {
	hWnd := i.platform.ForegroundWindow()
	for step := 0; step < i.maxWindowWalk; step++ {
		hWnd = i.platform.NextWindow(hWnd)
		if hWnd == 0 {
			return 0, ErrNoVisibleWindow
		}
		if i.platform.IsWindowVisible(hWnd) {
			return hWnd, nil
		}
	}

	i.logger.Debug("Z-order walk exhausted",
		slog.Int("max_steps", i.maxWindowWalk))
	return 0, fmt.Errorf("%w within %d windows", ErrNoVisibleWindow, i.maxWindowWalk)
}

// decodeTerminated decodes buf up to its first NUL. A buffer without a
// terminator means the window reported no title at all.
func decodeTerminated(buf []uint16) (string, error) {
	for n, u := range buf {
		if u == 0 {
			return string(utf16.Decode(buf[:n])), nil
		}
	}
	return "", ErrNoTitle
}

// executableName returns the text after the last path separator.
func executableName(path string) string {
	if idx := strings.LastIndexAny(path, `\/`); idx != -1 {
		return path[idx+1:]
	}
	return path
}
