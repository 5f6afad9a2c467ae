package main

import "wuyrush.io/wave/autoplay"

// keyMap translates key presses into player inputs. The terminal reports no key releases, so
// the hold key toggles between holding and releasing.
type keyMap struct {
	holding bool
}

type action int

const (
	actionNone action = iota
	actionInput
	actionLike
	actionQuit
)

func (k *keyMap) translate(r rune) (action, autoplay.Input) {
	switch r {
	case ' ':
		return actionInput, autoplay.InputTogglePause
	case 'n', 'N':
		return actionInput, autoplay.InputNext
	case 'p', 'P':
		return actionInput, autoplay.InputPrev
	case 'h', 'H':
		k.holding = !k.holding
		if k.holding {
			return actionInput, autoplay.InputHoldStart
		}
		return actionInput, autoplay.InputHoldEnd
	case 'l', 'L':
		return actionLike, 0
	case 'q', 'Q':
		return actionQuit, autoplay.InputClose
	default:
		return actionNone, 0
	}
}

const keyHelp = "keys: [space] pause/resume  [n]ext  [p]revious  [h]old  [l]ike  [q]uit, then enter"
