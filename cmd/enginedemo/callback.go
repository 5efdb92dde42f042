package main

/*
#include <stdint.h>
void audioCallbackBridge(void *userdata, uint8_t *stream, int len);
*/
import "C"

import (
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/retrocoderamen/doomsynth/audio"
)

// engine is the single Engine instance driven by the exported audio
// callback below. SDL calls this across the cgo boundary, which cannot
// safely carry a Go pointer as userdata under cgo's pointer-passing rules,
// so the demo keeps exactly one engine in a package-level variable
// instead of threading it through AudioSpec.UserData.
var engine *audio.Engine

// sdlAudioCallback is the sdl.AudioCallback wired into AudioSpec.Callback.
var sdlAudioCallback = sdl.AudioCallback(C.audioCallbackBridge)

//export audioCallbackBridge
func audioCallbackBridge(userdata unsafe.Pointer, stream *C.uint8_t, length C.int) {
	nframes := int(length) / 2 / 2 // bytes -> int16 count -> stereo frames
	out := unsafe.Slice((*int16)(unsafe.Pointer(stream)), nframes*2)
	if engine == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}
	engine.Callback(out)
}
