// Package audio is the single public entry point this module exposes
// (spec §4.7, §9 "a single top-level audio engine value"): Engine owns
// every subsystem — the sfx cache and mixer, the OP2 bank, the OPL voice
// allocator and chip, the MUS player and driver, and the mixer
// orchestrator — and is the only thing cmd/enginedemo talks to.
package audio

import (
	"errors"
	"sync/atomic"

	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/lump"
	"github.com/retrocoderamen/doomsynth/internal/mixer"
	"github.com/retrocoderamen/doomsynth/internal/mus"
	"github.com/retrocoderamen/doomsynth/internal/notetable"
	"github.com/retrocoderamen/doomsynth/internal/op2"
	"github.com/retrocoderamen/doomsynth/internal/oplchip"
	"github.com/retrocoderamen/doomsynth/internal/opldriver"
	"github.com/retrocoderamen/doomsynth/internal/oplvoice"
	"github.com/retrocoderamen/doomsynth/internal/sfx"
)

// ErrMissingGenMidi is returned by InitSound when the provider has no
// GENMIDI lump and the caller did not opt into the fallback bank.
var ErrMissingGenMidi = errors.New("audio: provider has no GENMIDI lump")

// Config parametrizes InitSound. Zero-value fields fall back to the
// reference engine's constants (spec §4.1, §6).
type Config struct {
	// OutputSampleRate is the device's playback rate (44100 in the
	// reference engine; spec.md's Non-goals exclude other rates, but
	// the field exists so a demo binary can still name it explicitly).
	OutputSampleRate float64

	// MaxFrames bounds the largest Callback call this Engine will ever
	// service; every buffer in the chain is sized from it once, here.
	MaxFrames int

	// ChunkSize is the sfx cache's padding granularity (spec §3).
	ChunkSize int

	// CutoffHz/Q parametrize the two output biquads (spec §4.1).
	CutoffHz float64
	Q        float64

	// PistolID names the sound substituted for a missing lump (spec §7).
	PistolID sfx.SoundID

	// DedupIDs names sounds with single-instance semantics (chainsaw,
	// saw-idle, ...), per spec §4.6.
	DedupIDs []sfx.SoundID

	// AllowFallbackBank lets InitSound proceed with op2.Fallback() when
	// the provider has no GENMIDI lump, instead of returning an error.
	AllowFallbackBank bool
}

func (c Config) withDefaults() Config {
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = 44100
	}
	if c.MaxFrames == 0 {
		c.MaxFrames = 4096
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 128
	}
	if c.CutoffHz == 0 {
		c.CutoffHz = 4400
	}
	if c.Q == 0 {
		c.Q = 0.6
	}
	return c
}

// SongHandle is the opaque result of RegisterSong, passed back into
// PlaySong (spec §4.7's `I_RegisterSong(data_ptr)`).
type SongHandle = *mus.Score

// Engine is the top-level owned audio-subsystem value (spec §9). All of
// its control-thread methods are safe to call from any goroutine; Callback
// is the audio thread's only entry point and must not be called
// concurrently with itself.
type Engine struct {
	cache    *sfx.Cache
	sfxMixer *sfx.Mixer
	bank     *op2.Bank
	chip     oplchip.Chip
	voices   *oplvoice.Allocator
	player   *mus.Player
	driver   *opldriver.Driver
	orch     *mixer.Orchestrator
	log      *logging.Logger

	// Shared music-control state, transported per spec §5 without a
	// lock: songPtr/loopFlag/pausedFlag are written by the control
	// thread and read by the audio thread at the top of Callback.
	songPtr    atomic.Pointer[mus.Score]
	loopFlag   atomic.Bool
	pausedFlag atomic.Bool
	finished   atomic.Bool

	// lastSong is touched only by the audio thread, inside Callback
	// (spec §5's "the mixer compares the current song pointer to its
	// last_song"); it must never be read or written from the control
	// thread.
	lastSong *mus.Score
}

// InitSound is I_InitSound (spec §4.7): it allocates every buffer the
// audio thread will ever touch, loads the GENMIDI bank, and builds an
// Engine ready to have sfx lumps loaded into it and its Callback wired to
// a device. No sfx lumps are loaded yet — call LoadSfxLump for each one,
// then SetChannels before starting the device.
func InitSound(cfg Config, provider lump.Provider, log *logging.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	bank, err := loadBank(provider, cfg.AllowFallbackBank)
	if err != nil {
		return nil, err
	}

	cache := sfx.NewCache(cfg.ChunkSize)
	sfxMixer := sfx.New(cache, cfg.OutputSampleRate, cfg.CutoffHz, cfg.Q, cfg.PistolID, log)
	sfxMixer.SetDedupIDs(cfg.DedupIDs...)

	chip := oplchip.NewSoftware(uint32(notetable.NativeRate))
	voices := oplvoice.New(chip, log)
	player := mus.NewPlayer(nil, bank, voices, log)

	driver := opldriver.New(chip, cfg.OutputSampleRate, cfg.MaxFrames, log)
	driver.SetPlayer(player)

	orch := mixer.New(sfxMixer, driver, cfg.MaxFrames, log)

	e := &Engine{
		cache:    cache,
		sfxMixer: sfxMixer,
		bank:     bank,
		chip:     chip,
		voices:   voices,
		player:   player,
		driver:   driver,
		orch:     orch,
		log:      log,
	}
	e.pausedFlag.Store(false)
	e.finished.Store(true)
	return e, nil
}

func loadBank(provider lump.Provider, allowFallback bool) (*op2.Bank, error) {
	raw, ok := provider.GenMidi()
	if !ok {
		if allowFallback {
			return op2.Fallback(), nil
		}
		return nil, ErrMissingGenMidi
	}
	return op2.Load(raw)
}

// LoadSfxLump fetches name from provider and caches it under id (spec
// §4.7's "load all sfx lumps" step of I_InitSound, performed lazily one
// lump at a time so the caller controls id assignment).
func (e *Engine) LoadSfxLump(provider lump.Provider, id sfx.SoundID, name string) bool {
	raw, ok := provider.SfxLump(name)
	if !ok {
		return false
	}
	e.cache.Load(id, raw)
	return true
}

// AliasSfxLump makes aliasOf's cache entry available under id too,
// without copying the sample data (spec §3 "aliased sounds share one
// cache entry").
func (e *Engine) AliasSfxLump(id, aliasOf sfx.SoundID) bool {
	return e.cache.Alias(id, aliasOf)
}

// SetChannels is I_SetChannels (spec §4.7): resets the voice table. The
// step table itself was already built once at InitSound; nothing else in
// this engine needs rebuilding on a channel-count change since NumChannels
// is a compile-time constant here, unlike the reference engine's runtime
// cvar.
func (e *Engine) SetChannels() {
	e.sfxMixer.Reset()
}

// StartSound is I_StartSound.
func (e *Engine) StartSound(id sfx.SoundID, volume, separation, pitch int) (sfx.Handle, error) {
	return e.sfxMixer.StartSound(id, volume, separation, pitch)
}

// StopSound is I_StopSound.
func (e *Engine) StopSound(h sfx.Handle) bool {
	return e.sfxMixer.StopSound(h)
}

// SoundIsPlaying is I_SoundIsPlaying.
func (e *Engine) SoundIsPlaying(h sfx.Handle) bool {
	return e.sfxMixer.SoundIsPlaying(h)
}

// UpdateSoundParams is I_UpdateSoundParams.
func (e *Engine) UpdateSoundParams(h sfx.Handle, volume, separation, pitch int) (bool, error) {
	return e.sfxMixer.UpdateSoundParams(h, volume, separation, pitch)
}

// SetMusicVolume is I_SetMusicVolume: the ((v+2)^2)>>7 curve, applied on
// the audio thread at the start of the next callback (spec §4.7, §5).
func (e *Engine) SetMusicVolume(v int) {
	e.orch.SetMusicVolume(v)
}

// RegisterSong decodes a MUS file's bytes into a playable handle
// (I_RegisterSong); it does not start playback.
func (e *Engine) RegisterSong(data []byte) (SongHandle, error) {
	return mus.Load(data)
}

// PlaySong is I_PlaySong: publishes the song pointer and loop flag with
// release ordering (spec §5's release/acquire pair) and clears the
// finished flag. The audio thread picks up the new song at the start of
// its next Callback.
func (e *Engine) PlaySong(h SongHandle, loop bool) {
	e.loopFlag.Store(loop)
	e.finished.Store(false)
	e.songPtr.Store(h)
}

// StopSong is I_StopSong: clears the song pointer. The audio thread
// observes this at the start of its next Callback and stops the player.
func (e *Engine) StopSong() {
	e.songPtr.Store(nil)
}

// PauseSong is I_PauseSong.
func (e *Engine) PauseSong() {
	e.pausedFlag.Store(true)
}

// ResumeSong is I_ResumeSong.
func (e *Engine) ResumeSong() {
	e.pausedFlag.Store(false)
}

// QrySongPlaying is I_QrySongPlaying: true iff a song is registered and
// has not been observed to finish (spec §4.7).
func (e *Engine) QrySongPlaying() bool {
	return e.songPtr.Load() != nil && !e.finished.Load()
}

// ShutdownSound is I_ShutdownSound: releases the registered song so a
// subsequent Callback stops the player. The caller is responsible for
// joining the audio device thread before this returns control of the
// underlying buffers (spec §5 "runs until I_ShutdownSound joins the
// thread").
func (e *Engine) ShutdownSound() {
	e.songPtr.Store(nil)
	e.pausedFlag.Store(false)
}

// Callback is the audio thread's only entry point (spec §4.6's final
// stage, §9's "the audio callback receives a reference"). out must have
// even length; it is filled with interleaved stereo int16 samples. This
// method owns song-pointer-swap detection and pause application — the
// only code in this module permitted to mutate *mus.Player — before
// delegating the sfx+music mix itself to the orchestrator.
func (e *Engine) Callback(out []int16) {
	song := e.songPtr.Load()
	if song != e.lastSong {
		if song == nil {
			e.player.Stop()
		} else {
			e.player.Reset(song, e.loopFlag.Load())
		}
		e.lastSong = song
	}
	e.player.SetPaused(e.pausedFlag.Load())

	e.orch.Callback(out)

	if song != nil && !e.player.Playing() {
		e.finished.Store(true)
	}
}
