// Package config assembles the serve command's starting options before
// flags are applied.
//
// Two layers, lowest precedence first:
//   - built-in defaults and environment variables, processed by
//     github.com/jinzhu/configor from struct tags on Defaults
//   - the project rc file (.devserverc), JSON with comments, stripped with
//     github.com/tidwall/jsonc before decoding
//
// Flags the user explicitly set on the command line override both; that
// last step lives in internal/cli.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jinzhu/configor"
	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/devserve/internal/model"
)

// RCFileName is the project rc file looked up in the project directory.
const RCFileName = ".devserverc"

// Defaults holds the values used when neither the rc file nor a flag sets
// an option. Environment variables named in the env tags override the
// built-in default.
type Defaults struct {
	Port        int    `default:"4200" env:"PORT"`
	Environment string `default:"development" env:"DEVSERVE_ENV"`
	OutputPath  string `default:"dist/" env:"DEVSERVE_OUTPUT_PATH"`
	Watcher     string `default:"events" env:"DEVSERVE_WATCHER"`
	LiveReload  bool   `default:"true" env:"DEVSERVE_LIVE_RELOAD"`
	SSLKey      string `default:"ssl/server.key" env:"DEVSERVE_SSL_KEY"`
	SSLCert     string `default:"ssl/server.crt" env:"DEVSERVE_SSL_CERT"`
}

// LoadDefaults processes the default and env tags of Defaults.
func LoadDefaults() (*Defaults, error) {
	var d Defaults
	loader := configor.New(&configor.Config{ENVPrefix: "DEVSERVE", Silent: true})
	if err := loader.Load(&d); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to load defaults from environment", err)
	}
	return &d, nil
}

// Options converts the defaults into a ServeOptions value.
func (d *Defaults) Options() model.ServeOptions {
	return model.ServeOptions{
		Port:        d.Port,
		Environment: d.Environment,
		OutputPath:  d.OutputPath,
		Watcher:     model.Watcher(d.Watcher),
		LiveReload:  d.LiveReload,
		SSLKey:      d.SSLKey,
		SSLCert:     d.SSLCert,
	}
}

// RC mirrors the keys accepted in .devserverc. Pointer fields distinguish
// "absent" from a zero value so that only present keys override defaults.
// Unknown keys are ignored.
type RC struct {
	Port              *int    `json:"port"`
	Host              *string `json:"host"`
	Proxy             *string `json:"proxy"`
	InsecureProxy     *bool   `json:"insecureProxy"`
	Watcher           *string `json:"watcher"`
	LiveReload        *bool   `json:"liveReload"`
	LiveReloadHost    *string `json:"liveReloadHost"`
	LiveReloadBaseURL *string `json:"liveReloadBaseURL"`
	LiveReloadPort    *int    `json:"liveReloadPort"`
	Environment       *string `json:"environment"`
	OutputPath        *string `json:"outputPath"`
	SSL               *bool   `json:"ssl"`
	SSLKey            *string `json:"sslKey"`
	SSLCert           *string `json:"sslCert"`
}

// LoadRC reads dir/.devserverc. A missing file yields an empty RC.
func LoadRC(dir string) (*RC, error) {
	path := filepath.Join(dir, RCFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RC{}, nil
		}
		return nil, model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("failed to read %s", path), err)
	}

	// rc files are hand-edited, so comments and trailing commas are allowed.
	var rc RC
	if err := json.Unmarshal(jsonc.ToJSON(data), &rc); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return &rc, nil
}

// Apply overwrites the options present in the rc file.
func (rc *RC) Apply(o *model.ServeOptions) {
	setInt(&o.Port, rc.Port)
	setString(&o.Host, rc.Host)
	setString(&o.Proxy, rc.Proxy)
	setBool(&o.InsecureProxy, rc.InsecureProxy)
	if rc.Watcher != nil {
		o.Watcher = model.Watcher(*rc.Watcher)
	}
	setBool(&o.LiveReload, rc.LiveReload)
	setString(&o.LiveReloadHost, rc.LiveReloadHost)
	setString(&o.LiveReloadBaseURL, rc.LiveReloadBaseURL)
	setInt(&o.LiveReloadPort, rc.LiveReloadPort)
	setString(&o.Environment, rc.Environment)
	setString(&o.OutputPath, rc.OutputPath)
	setBool(&o.SSL, rc.SSL)
	setString(&o.SSLKey, rc.SSLKey)
	setString(&o.SSLCert, rc.SSLCert)
}

// Load returns the defaults with the project rc file applied on top.
func Load(projectDir string) (model.ServeOptions, error) {
	d, err := LoadDefaults()
	if err != nil {
		return model.ServeOptions{}, err
	}
	opts := d.Options()

	rc, err := LoadRC(projectDir)
	if err != nil {
		return model.ServeOptions{}, err
	}
	rc.Apply(&opts)
	return opts, nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
