package static

import (
	"encoding/json"
	"io"

	"github.com/wippyai/wasm-instrument/errors"
)

// Parse decodes and validates rewriter-produced module info.
func Parse(data []byte) (*ModuleInfo, error) {
	var info ModuleInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(errors.PhaseMetadata, errors.KindInvalidData, err, "decode module info")
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}

// Load reads module info from r. See Parse.
func Load(r io.Reader) (*ModuleInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMetadata, errors.KindInvalidData, err, "read module info")
	}
	return Parse(data)
}
