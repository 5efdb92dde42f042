package logging

// Component identifies which audio subsystem produced a log entry.
type Component string

const (
	ComponentMixer Component = "mixer"
	ComponentMusic Component = "music"
	ComponentSfx   Component = "sfx"
	ComponentOPL   Component = "opl"
)
