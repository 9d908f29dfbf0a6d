package playback

// Events receives callbacks from one bound audio source.
type Events interface {
	Progress(position, duration float64)
	Ended()
	Failed(err error)
}

// Source is a bound, loaded audio element.
type Source interface {
	Play(rate float64) error
	Pause() error
	// Rewind moves the position back to zero.
	Rewind() error
	SetRate(rate float64) error
	// Release unbinds the source. Events are not delivered afterwards.
	Release()
}

// Player binds URLs to audio sources. The Controller never holds more than
// one Source from a Player at a time. Events must not be delivered from
// inside Open or a Source method call.
type Player interface {
	Open(url string, events Events) (Source, error)
}
