package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// SaveToFile writes the conversation as YAML for .yaml/.yml files, JSON otherwise.
func (c Conversation) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "could not encode conversation")
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrapf(err, "could not write %s", filename)
	}
	return nil
}

// LoadFromFile reads a conversation written by SaveToFile and validates it.
func LoadFromFile(filename string) (Conversation, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", filename)
	}
	var ret Conversation
	if isYAML(filename) {
		err = yaml.Unmarshal(data, &ret)
	} else {
		err = json.Unmarshal(data, &ret)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}
	if err := ret.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid conversation in %s", filename)
	}
	return ret, nil
}
