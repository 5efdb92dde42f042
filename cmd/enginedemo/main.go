// Command enginedemo drives an audio.Engine from a real SDL2 pull-model
// audio device: it loads a GENMIDI bank, an optional MUS song, and an
// optional raw sfx lump from disk, then lets the device's callback pull
// samples straight out of the engine until the configured duration elapses.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/retrocoderamen/doomsynth/audio"
	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/lump"
	"github.com/retrocoderamen/doomsynth/internal/sfx"
)

const (
	demoSfxID  sfx.SoundID = 1
	demoSfxLump            = "demosfx"
	demoMusLump            = "demomus"
)

func main() {
	var (
		genmidiPath = pflag.String("genmidi", "", "path to a GENMIDI (OP2) instrument bank; falls back to a built-in bank if empty")
		sfxPath     = pflag.String("sfx", "", "path to a raw sfx lump to play once at startup")
		musPath     = pflag.String("song", "", "path to a MUS file to loop")
		volume      = pflag.Int("volume", 127, "music volume, 0-127")
		duration    = pflag.Duration("duration", 5*time.Second, "how long to run before exiting")
	)
	pflag.Parse()

	log := logging.New()

	if err := run(log, *genmidiPath, *sfxPath, *musPath, *volume, *duration); err != nil {
		fmt.Fprintln(os.Stderr, "enginedemo:", err)
		os.Exit(1)
	}
}

func run(log *logging.Logger, genmidiPath, sfxPath, musPath string, volume int, duration time.Duration) error {
	provider := lump.NewStatic()

	if genmidiPath != "" {
		data, err := os.ReadFile(genmidiPath)
		if err != nil {
			return fmt.Errorf("reading genmidi: %w", err)
		}
		provider.SetGenMidi(data)
	}

	eng, err := audio.InitSound(audio.Config{
		MaxFrames:         4096,
		PistolID:          demoSfxID,
		AllowFallbackBank: genmidiPath == "",
	}, provider, log)
	if err != nil {
		return fmt.Errorf("init sound: %w", err)
	}
	eng.SetChannels()
	eng.SetMusicVolume(volume)
	engine = eng

	if sfxPath != "" {
		data, err := os.ReadFile(sfxPath)
		if err != nil {
			return fmt.Errorf("reading sfx lump: %w", err)
		}
		provider.SetSfxLump(demoSfxLump, data)
		eng.LoadSfxLump(provider, demoSfxID, demoSfxLump)
	}

	if musPath != "" {
		data, err := os.ReadFile(musPath)
		if err != nil {
			return fmt.Errorf("reading song: %w", err)
		}
		provider.SetMusLump(demoMusLump, data)
		score, err := eng.RegisterSong(data)
		if err != nil {
			return fmt.Errorf("decoding song: %w", err)
		}
		eng.PlaySong(score, true)
	}

	if err := sdl.Init(sdl.INIT_AUDIO); err != nil {
		return fmt.Errorf("sdl init: %w", err)
	}
	defer sdl.Quit()

	spec := sdl.AudioSpec{
		Freq:     44100,
		Format:   sdl.AUDIO_S16SYS,
		Channels: 2,
		Samples:  1024,
		Callback: sdlAudioCallback,
	}

	dev, err := sdl.OpenAudioDevice("", false, &spec, nil, 0)
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	defer sdl.CloseAudioDevice(dev)

	sdl.PauseAudioDevice(dev, false)

	if sfxPath != "" {
		eng.StartSound(demoSfxID, 127, 128, 128)
	}

	time.Sleep(duration)
	eng.ShutdownSound()
	return nil
}
