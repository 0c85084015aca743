package sim

const (
	// DefaultIntroFrames is the length of the intro before combat starts.
	DefaultIntroFrames = 30
	// DefaultOutroFrames is how long the outro runs before the battle exits.
	DefaultOutroFrames = 60
)

// Control is the high-level battle phase. Implementations are plain values so
// a Backup can hold one without sharing it with the live scene.
type Control interface {
	// Name identifies the phase in logs and digests.
	Name() string
	// Next returns the phase to switch to before this frame's update, or nil
	// to stay.
	Next(state *State) Control
	// Update runs one frame of the phase and returns the advanced phase along
	// with the effects applied this frame.
	Update(state *State, scripts Scripts) (Control, []Effect)
}

// IntroControl runs animators only, for a fixed number of frames. OutroFrames
// is carried forward to the combat phase.
type IntroControl struct {
	Frames      int
	Elapsed     int
	OutroFrames int
}

// NewIntroControl returns the opening phase.
func NewIntroControl(introFrames, outroFrames int) IntroControl {
	return IntroControl{Frames: introFrames, OutroFrames: outroFrames}
}

func (IntroControl) Name() string { return "intro" }

func (c IntroControl) Next(state *State) Control {
	if c.Elapsed < c.Frames {
		return nil
	}
	return CombatControl{StartTeams: state.LivingTeams(), OutroFrames: c.OutroFrames}
}

func (c IntroControl) Update(state *State, scripts Scripts) (Control, []Effect) {
	applied := runFrame(state, scripts, false)
	c.Elapsed++
	return c, applied
}

// CombatControl runs entity logic. StartTeams records how many teams were
// alive when combat began; a battle that started with a single team only ends
// through a script.
type CombatControl struct {
	StartTeams  int
	OutroFrames int
}

func (CombatControl) Name() string { return "combat" }

func (c CombatControl) Next(state *State) Control {
	if state.EndRequested || (c.StartTeams > 1 && state.LivingTeams() <= 1) {
		frames := c.OutroFrames
		if frames <= 0 {
			frames = DefaultOutroFrames
		}
		return OutroControl{Frames: frames}
	}
	return nil
}

func (c CombatControl) Update(state *State, scripts Scripts) (Control, []Effect) {
	applied := runFrame(state, scripts, true)
	if state.TurnGauge < TurnGaugeMax {
		state.TurnGauge++
	}
	return c, applied
}

// OutroControl keeps animating and requests exit once it has run its course.
type OutroControl struct {
	Frames  int
	Elapsed int
}

func (OutroControl) Name() string { return "outro" }

func (OutroControl) Next(*State) Control { return nil }

func (c OutroControl) Update(state *State, scripts Scripts) (Control, []Effect) {
	applied := runFrame(state, scripts, false)
	c.Elapsed++
	if c.Elapsed >= c.Frames {
		state.Exit = true
	}
	return c, applied
}
