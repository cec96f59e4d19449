// Package tts speaks replies on the local sound card through libespeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

static int
jarvis_say(const char *text, const char *lang, int rate)
{
	if (!text || !lang)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE specs = { 0 };
	specs.languages = lang;
	espeak_SetVoiceByProperties(&specs);
	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// espeak keeps global state; one utterance at a time.
var mu sync.Mutex

type Voice struct {
	Language string // "en", "ru", ...
	Rate     int    // words per minute, 0 = default
}

func Speak(text string, v Voice) error {
	if text == "" {
		return nil
	}
	if v.Language == "" || v.Language == "auto" {
		v.Language = "en"
	}

	mu.Lock()
	defer mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(v.Language)
	defer C.free(unsafe.Pointer(clang))

	rc := C.jarvis_say(ctext, clang, C.int(v.Rate))
	if rc != 0 {
		return fmt.Errorf("espeak failed: %d", int(rc))
	}
	return nil
}
