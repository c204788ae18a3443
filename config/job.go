package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/cssprobe/models"
)

// ErrJobNotFound is returned when the job file does not exist.
var ErrJobNotFound = errors.New("job file not found")

// Job is an audit described in a YAML file, used by the CLI.
//
//	pages:
//	  crawl: ["https://example.com/"]
//	  exclude: ["https://example.com/admin/*"]
//	selectors: [".btn", "a:hover", "[data-x]"]
//	whitelist: [".js-only"]
//	cookie: "sessionid=abc"
type Job struct {
	Pages     models.Pages `yaml:"pages"`
	Selectors []string     `yaml:"selectors"`
	Whitelist []string     `yaml:"whitelist"`
	Cookie    string       `yaml:"cookie"`

	// SelectorsFile, if set, is a newline-separated selector list appended
	// to Selectors. Relative paths are resolved from the working directory.
	SelectorsFile string `yaml:"selectors_file"`
}

// LoadJobFile reads a YAML job file. Callers merge any extra pages or
// selectors and then call Validate.
func LoadJobFile(path string) (*Job, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided job path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("config: parse job %s: %w", path, err)
	}

	if job.SelectorsFile != "" {
		extra, err := LoadSelectorsFile(job.SelectorsFile)
		if err != nil {
			return nil, err
		}
		job.Selectors = append(job.Selectors, extra...)
	}
	return &job, nil
}

// Validate reports a missing seed or selector list.
func (j *Job) Validate() error {
	if len(j.Pages.Crawl) == 0 && len(j.Pages.Include) == 0 {
		return errors.New("config: job needs at least one crawl or include page")
	}
	if len(j.Selectors) == 0 {
		return errors.New("config: job needs at least one selector")
	}
	return nil
}
