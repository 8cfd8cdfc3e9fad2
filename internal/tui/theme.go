package tui

import (
	"github.com/gdamore/tcell/v2"
)

// Palette shared by every screen.
var (
	ProxmoxOrange = tcell.NewRGBColor(229, 112, 0)   // #E57000
	ProxmoxGray   = tcell.NewRGBColor(128, 128, 128) // #808080
)

// missingChecksumTag is appended to rows whose .sha256 sidecar is absent.
const missingChecksumTag = " [yellow](no checksum)[-]"
