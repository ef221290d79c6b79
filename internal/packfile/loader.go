// loader.go — Reads a pack directory into a validated Pack (spec.md §4.1, §6).
package packfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	manifestFileName = "taskpack.json"
	flowFileName     = "flow.json"
	secretsFileName  = ".secrets.json"
)

type secretsFile struct {
	Version int               `json:"version"`
	Secrets map[string]string `json:"secrets"`
}

// Load reads taskpack.json, flow.json, and (if present) .secrets.json from
// dir, applies input defaults, and validates the result. It returns the
// first MissingFileError/SchemaError/MissingRequiredSecretError encountered,
// or a FlowValidationError aggregating every structural problem found.
func Load(dir string) (*Pack, error) {
	manifest, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	flow, err := loadFlow(dir)
	if err != nil {
		return nil, err
	}
	secrets, err := loadSecrets(dir)
	if err != nil {
		return nil, err
	}

	pack := &Pack{
		Dir:      dir,
		Manifest: manifest,
		Flow:     flow,
		Secrets:  secrets,
	}

	if err := checkRequiredSecrets(manifest, secrets); err != nil {
		return nil, err
	}
	if err := Validate(pack); err != nil {
		return nil, err
	}
	return pack, nil
}

func loadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, manifestFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- dir is an operator-supplied pack path
	if err != nil {
		return Manifest{}, &MissingFileError{Path: path}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, &SchemaError{Field: "taskpack.json", Message: err.Error()}
	}
	if m.ID == "" {
		return Manifest{}, &SchemaError{Field: "id", Message: "required"}
	}
	if m.Name == "" {
		return Manifest{}, &SchemaError{Field: "name", Message: "required"}
	}
	if m.Version == "" {
		return Manifest{}, &SchemaError{Field: "version", Message: "required"}
	}
	if !idPattern.MatchString(m.ID) {
		return Manifest{}, &SchemaError{Field: "id", Message: "must match [A-Za-z0-9._-]+"}
	}
	return m, nil
}

func loadFlow(dir string) (FlowDoc, error) {
	path := filepath.Join(dir, flowFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- dir is an operator-supplied pack path
	if err != nil {
		return FlowDoc{}, &MissingFileError{Path: path}
	}
	var f FlowDoc
	if err := json.Unmarshal(data, &f); err != nil {
		return FlowDoc{}, &SchemaError{Field: "flow.json", Message: err.Error()}
	}
	return f, nil
}

func loadSecrets(dir string) (map[string]string, error) {
	path := filepath.Join(dir, secretsFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- dir is an operator-supplied pack path
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var sf secretsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, &SchemaError{Field: secretsFileName, Message: err.Error()}
	}
	if sf.Secrets == nil {
		return map[string]string{}, nil
	}
	return sf.Secrets, nil
}

func checkRequiredSecrets(m Manifest, secrets map[string]string) error {
	for _, decl := range m.Secrets {
		if !decl.Required {
			continue
		}
		if _, ok := secrets[decl.Name]; !ok {
			return &MissingRequiredSecretError{Name: decl.Name}
		}
	}
	return nil
}
