package sink

import (
	"fmt"

	"github.com/n0call/cwengine/internal/generator"
)

// New builds the Sink for the given variant. Variants that need sample
// production (OSS, ALSA, and the malgo soundcard selected by
// "capture-loopback") are wired to gen; Silent and Console ignore it. An
// empty variant builds the Silent sink; no backend is probed.
func New(variant Variant, gen *generator.Generator) (Sink, error) {
	switch variant {
	case VariantSilent, "":
		return NewSilent(), nil
	case VariantConsole:
		return NewConsole(), nil
	case VariantOSS:
		return NewOSS(gen), nil
	case VariantALSA:
		return NewALSA(gen), nil
	case VariantCaptureLoopback:
		return NewSoundcard(gen), nil
	default:
		return nil, fmt.Errorf("sink: unknown variant %q", variant)
	}
}
