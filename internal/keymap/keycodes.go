package keymap

// Key is a platform remote-control key.
type Key int

// Remote-control keys. KeyNone marks an unknown name.
const (
	KeyNone Key = iota
	KeyOK
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyBack
	KeyExit
	KeyMenu
	KeyInfo
	KeyRed
	KeyGreen
	KeyYellow
	KeyBlue
	KeyPageUp
	KeyPageDown
	KeyChannelUp
	KeyChannelDown
	KeyVolumeUp
	KeyVolumeDown
	KeyMute
	KeyPower
	KeyPlayPause
	KeyStop
	KeyRewind
	KeyForward
	KeyRecord
	KeyRefresh
	Key0
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
)

var keyNames = map[string]Key{
	"RC_KEY_OK":            KeyOK,
	"RC_KEY_UP":            KeyUp,
	"RC_KEY_DOWN":          KeyDown,
	"RC_KEY_LEFT":          KeyLeft,
	"RC_KEY_RIGHT":         KeyRight,
	"RC_KEY_BACK":          KeyBack,
	"RC_KEY_EXIT":          KeyExit,
	"RC_KEY_MENU":          KeyMenu,
	"RC_KEY_INFO":          KeyInfo,
	"RC_KEY_RED":           KeyRed,
	"RC_KEY_GREEN":         KeyGreen,
	"RC_KEY_YELLOW":        KeyYellow,
	"RC_KEY_BLUE":          KeyBlue,
	"RC_KEY_PAGE_UP":       KeyPageUp,
	"RC_KEY_PAGE_DOWN":     KeyPageDown,
	"RC_KEY_CHANNEL_PLUS":  KeyChannelUp,
	"RC_KEY_CHANNEL_MINUS": KeyChannelDown,
	"RC_KEY_VOLUME_UP":     KeyVolumeUp,
	"RC_KEY_VOLUME_DOWN":   KeyVolumeDown,
	"RC_KEY_MUTE":          KeyMute,
	"RC_KEY_POWER":         KeyPower,
	"RC_KEY_PLAY_PAUSE":    KeyPlayPause,
	"RC_KEY_STOP":          KeyStop,
	"RC_KEY_REWIND":        KeyRewind,
	"RC_KEY_FAST_FORWARD":  KeyForward,
	"RC_KEY_RECORD":        KeyRecord,
	"RC_KEY_REFRESH":       KeyRefresh,
	"RC_KEY_0":             Key0,
	"RC_KEY_1":             Key1,
	"RC_KEY_2":             Key2,
	"RC_KEY_3":             Key3,
	"RC_KEY_4":             Key4,
	"RC_KEY_5":             Key5,
	"RC_KEY_6":             Key6,
	"RC_KEY_7":             Key7,
	"RC_KEY_8":             Key8,
	"RC_KEY_9":             Key9,
}

// Lookup translates a key name from a keymap file.
func Lookup(name string) (Key, bool) {
	k, ok := keyNames[name]
	return k, ok
}
