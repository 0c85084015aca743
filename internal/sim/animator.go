package sim

// AnimatorID addresses an animator in State.Animators.
type AnimatorID = Handle

// FrameCallback is queued when an animator enters Frame.
type FrameCallback struct {
	Frame  int    `msgpack:"frame"`
	Effect Effect `msgpack:"effect"`
}

// Animator advances a named animation state frame by frame. Callbacks are
// never run in place; they are handed back to the caller to be queued.
type Animator struct {
	State       string          `msgpack:"state"`
	FrameCount  int             `msgpack:"frameCount"`
	FrameLength int             `msgpack:"frameLength"`
	Elapsed     int             `msgpack:"elapsed"`
	Loop        bool            `msgpack:"loop"`
	Disabled    bool            `msgpack:"disabled"`
	Complete    bool            `msgpack:"complete"`
	Callbacks   []FrameCallback `msgpack:"callbacks,omitempty"`
	OnComplete  []Effect        `msgpack:"onComplete,omitempty"`
	OnInterrupt []Effect        `msgpack:"onInterrupt,omitempty"`
}

// IdleAnimator returns a looping single-frame animator.
func IdleAnimator() Animator {
	return Animator{State: "IDLE", FrameCount: 1, FrameLength: 1, Loop: true}
}

// Frame reports the current animation frame.
func (a *Animator) Frame() int {
	if a.FrameLength <= 0 {
		return 0
	}
	return a.Elapsed / a.FrameLength
}

// Running reports whether a non-looping animation is still playing.
func (a *Animator) Running() bool {
	return !a.Loop && !a.Complete && !a.Disabled
}

// SetState switches to a new animation. The interrupt callbacks of an
// animation that had not finished are returned so the caller can queue them
// in order; completion callbacks of the replaced animation are dropped.
func (a *Animator) SetState(state string, frameCount, frameLength int) []Effect {
	var interrupted []Effect
	if a.Running() {
		interrupted = cloneEffects(a.OnInterrupt)
	}
	if frameCount < 1 {
		frameCount = 1
	}
	if frameLength < 1 {
		frameLength = 1
	}
	*a = Animator{State: state, FrameCount: frameCount, FrameLength: frameLength}
	return interrupted
}

// Interrupt stops a running animation and returns its interrupt callbacks.
func (a *Animator) Interrupt() []Effect {
	if !a.Running() {
		return nil
	}
	interrupted := cloneEffects(a.OnInterrupt)
	*a = IdleAnimator()
	return interrupted
}

// Update advances one frame and returns the callbacks produced, frame
// callbacks first and completion callbacks last.
func (a *Animator) Update() []Effect {
	if a.Disabled || a.Complete {
		return nil
	}
	var produced []Effect
	if a.Elapsed%a.FrameLength == 0 {
		frame := a.Frame()
		for _, callback := range a.Callbacks {
			if callback.Frame == frame {
				produced = append(produced, cloneEffect(callback.Effect))
			}
		}
	}
	a.Elapsed++
	if a.Elapsed >= a.FrameCount*a.FrameLength {
		if a.Loop {
			a.Elapsed = 0
			return produced
		}
		a.Complete = true
		produced = append(produced, cloneEffects(a.OnComplete)...)
	}
	return produced
}

// Disable freezes the animator without firing callbacks.
func (a *Animator) Disable() {
	a.Disabled = true
}

func cloneAnimator(a Animator) Animator {
	cloned := a
	if len(a.Callbacks) > 0 {
		cloned.Callbacks = make([]FrameCallback, len(a.Callbacks))
		for i, callback := range a.Callbacks {
			cloned.Callbacks[i] = FrameCallback{Frame: callback.Frame, Effect: cloneEffect(callback.Effect)}
		}
	}
	cloned.OnComplete = cloneEffects(a.OnComplete)
	cloned.OnInterrupt = cloneEffects(a.OnInterrupt)
	return cloned
}
