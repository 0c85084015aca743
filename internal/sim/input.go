package sim

import "strings"

// FrameTime counts simulation frames.
type FrameTime int64

// Input enumerates the buttons that influence a battle. The numeric values are
// the wire codes carried in netplay packets.
type Input uint8

const (
	InputUp Input = iota
	InputDown
	InputLeft
	InputRight
	InputShoot
	InputUseCard
	InputSpecial
	InputPause

	inputCount
)

// BattleInputs lists every input sampled for a local player, in wire order.
var BattleInputs = [...]Input{
	InputUp,
	InputDown,
	InputLeft,
	InputRight,
	InputShoot,
	InputUseCard,
	InputSpecial,
	InputPause,
}

var inputNames = [...]string{
	InputUp:      "up",
	InputDown:    "down",
	InputLeft:    "left",
	InputRight:   "right",
	InputShoot:   "shoot",
	InputUseCard: "use_card",
	InputSpecial: "special",
	InputPause:   "pause",
}

// InputFromCode converts a wire code, reporting false for unknown codes.
func InputFromCode(code uint8) (Input, bool) {
	if code >= uint8(inputCount) {
		return 0, false
	}
	return Input(code), true
}

func (i Input) String() string {
	if i >= inputCount {
		return "unknown"
	}
	return inputNames[i]
}

// InputSet is the set of inputs held during a single frame.
type InputSet uint16

// NewInputSet builds a set from the provided inputs.
func NewInputSet(inputs ...Input) InputSet {
	var set InputSet
	for _, input := range inputs {
		set = set.With(input)
	}
	return set
}

// InputSetFromCodes converts wire codes, silently dropping unknown codes.
func InputSetFromCodes(codes []uint8) InputSet {
	var set InputSet
	for _, code := range codes {
		if input, ok := InputFromCode(code); ok {
			set = set.With(input)
		}
	}
	return set
}

// With returns a copy of the set including input.
func (s InputSet) With(input Input) InputSet {
	if input >= inputCount {
		return s
	}
	return s | 1<<input
}

// Has reports whether input is held.
func (s InputSet) Has(input Input) bool {
	if input >= inputCount {
		return false
	}
	return s&(1<<input) != 0
}

// Codes returns the wire codes of the held inputs in ascending order.
func (s InputSet) Codes() []uint8 {
	codes := make([]uint8, 0, inputCount)
	for _, input := range BattleInputs {
		if s.Has(input) {
			codes = append(codes, uint8(input))
		}
	}
	return codes
}

func (s InputSet) String() string {
	if s == 0 {
		return "none"
	}
	names := make([]string, 0, inputCount)
	for _, input := range BattleInputs {
		if s.Has(input) {
			names = append(names, input.String())
		}
	}
	return strings.Join(names, "+")
}

// PlayerInput tracks the inputs of one player across two consecutive frames so
// edge-triggered logic can tell presses from holds.
type PlayerInput struct {
	Pressed  InputSet `msgpack:"pressed"`
	Previous InputSet `msgpack:"previous"`
}

// Flush starts a new frame. Pressed is retained and acts as the speculated
// input until SetPressed replaces it.
func (p *PlayerInput) Flush() {
	p.Previous = p.Pressed
}

// SetPressed replaces the inputs held this frame.
func (p *PlayerInput) SetPressed(set InputSet) {
	p.Pressed = set
}

// Matches reports whether set equals the inputs held this frame.
func (p PlayerInput) Matches(set InputSet) bool {
	return p.Pressed == set
}

// IsDown reports whether input is held this frame.
func (p PlayerInput) IsDown(input Input) bool {
	return p.Pressed.Has(input)
}

// WasJustPressed reports whether input went down this frame.
func (p PlayerInput) WasJustPressed(input Input) bool {
	return p.Pressed.Has(input) && !p.Previous.Has(input)
}
