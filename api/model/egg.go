package model

type EggVariable struct {
	Name         string `json:"name"`
	EnvVariable  string `json:"envVariable"`
	DefaultValue string `json:"defaultValue"`
	UserEditable bool   `json:"userEditable"`
}

// ConfigFile is passed through to the daemon, which rewrites the named file
// on boot using the given parser.
type ConfigFile struct {
	File    string          `json:"file"`
	Parser  string          `json:"parser"`
	Replace []ConfigReplace `json:"replace"`
}

type ConfigReplace struct {
	Match       string `json:"match"`
	IfValue     string `json:"if_value,omitempty"`
	ReplaceWith string `json:"replace_with"`
}

type InstallScript struct {
	Container  string `json:"container"`
	Entrypoint string `json:"entrypoint"`
	Script     string `json:"script"`
}

type Egg struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	DockerImage     string        `json:"dockerImage"`
	Startup         string        `json:"startup"`
	StopCommand     string        `json:"stopCommand"`
	StartupDone     []string      `json:"startupDone"`
	UserInteraction []string      `json:"userInteraction"`
	StripANSI       bool          `json:"stripAnsi"`
	ConfigFiles     []ConfigFile  `json:"configFiles"`
	FileDenylist    []string      `json:"fileDenylist"`
	Variables       []EggVariable `json:"variables"`
	Install         InstallScript `json:"install"`
}

func (e Egg) RecordID() string { return e.ID }

// DefaultEnvironment returns every variable's default value keyed by its
// environment name.
func (e *Egg) DefaultEnvironment() map[string]string {
	env := make(map[string]string, len(e.Variables))
	for _, v := range e.Variables {
		env[v.EnvVariable] = v.DefaultValue
	}
	return env
}

// MergeEnvironment fills in defaults for variables not already set in env.
func (e *Egg) MergeEnvironment(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+len(e.Variables))
	for k, v := range env {
		out[k] = v
	}
	for _, v := range e.Variables {
		if _, ok := out[v.EnvVariable]; !ok {
			out[v.EnvVariable] = v.DefaultValue
		}
	}
	return out
}
