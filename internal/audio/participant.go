package audio

// Participant is an audio source and sink registered with the mixer.
//
// Read fills buf with this tick's samples and returns how many it produced;
// zero means nothing to contribute. Write receives the participant's
// personalized mix. Both buffers are exactly one tick long. Implementations
// must be comparable, since registration is by identity; the mixer refuses
// ones that are not.
type Participant interface {
	Read(buf []float32) (int, error)
	Write(buf []float32) error
}
